// Command ioredis-cli runs a single redis command against a cluster
// using the ioredis package, for manual testing of routing, binding,
// and redirection handling. Grounded on redisc's own ccheck/
// redisc_cli.go, which drives redisc's Cluster the same way
// through github.com/mna/mainer's flag-struct parser.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mna/mainer"

	"github.com/yohaiaga/ioredis"
)

const binName = "ioredis-cli"

var longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<arg>...]
       %[1]s -h|--help

Run a single redis command against a cluster via the ioredis package.

Valid flag options are:
       -h --help                 Show this help and exit immediately.
       -a --addrs ADDRS          Comma-separated list of seed addresses.
       -b --bind KEY             Bind the connection to KEY's node instead
                                 of letting the cluster route automatically.
       --hash KEY                Print the hash slot of KEY and exit.
       -r --read-only            Prefer a replica for read commands.
       --retry INT               Wrap a bound connection in AutoRetry,
                                 following up to INT redirections.
       --retry-delay DUR         Delay between TRYAGAIN/CLUSTERDOWN retries.

The <command> is the redis command to execute, with the provided <arg>s.
`, binName)

type cmd struct {
	Help bool `flag:"h,help"`

	Addrs      string        `flag:"a,addrs"`
	Bind       string        `flag:"b,bind"`
	Hash       string        `flag:"hash"`
	ReadOnly   bool          `flag:"r,read-only"`
	Retry      int           `flag:"retry"`
	RetryDelay time.Duration `flag:"retry-delay"`

	args []string
}

func (c *cmd) SetArgs(args []string) { c.args = args }

func (c *cmd) Validate() error {
	if c.Help || c.Hash != "" {
		return nil
	}
	if c.Addrs == "" {
		return errors.New("--addrs is required")
	}
	if c.Retry < 0 {
		return errors.New("--retry must be >= 0")
	}
	if len(c.args) == 0 {
		return errors.New("no redis command provided")
	}
	return nil
}

func (c *cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	var p mainer.Parser
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Hash != "":
		fmt.Fprintf(stdio.Stdout, "slot for %q: %d\n", c.Hash, ioredis.Slot(c.Hash))
		return mainer.Success
	}

	if err := c.Validate(); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.InvalidArgs
	}

	scaleReads := ioredis.ScaleMaster
	if c.ReadOnly {
		scaleReads = ioredis.ScaleSlave
	}
	maxRedirections := 16
	if c.Retry > 0 {
		maxRedirections = c.Retry
	}
	cluster := ioredis.NewCluster(&ioredis.ClusterOptions{
		Seeds:                strings.Split(c.Addrs, ","),
		MaxRedirections:      maxRedirections,
		ScaleReads:           scaleReads,
		RetryDelayOnTryAgain: c.RetryDelay,
	})
	defer cluster.Close()

	if err := cluster.Boot(); err != nil {
		fmt.Fprintln(stdio.Stderr, "boot:", err)
		return mainer.Failure
	}

	name := c.args[0]
	var cmdArgs []interface{}
	for _, a := range c.args[1:] {
		cmdArgs = append(cmdArgs, a)
	}

	var commander ioredis.Commander
	if c.Bind != "" {
		conn, err := cluster.Bind(c.Bind)
		if err != nil {
			fmt.Fprintln(stdio.Stderr, "bind:", err)
			return mainer.Failure
		}
		if c.Retry > 0 {
			commander = ioredis.AutoRetry(conn, cluster)
		} else {
			commander = ioredis.AsCommander(conn)
		}
	}

	command := ioredis.NewCommand(name, cmdArgs...)

	var (
		r   interface{}
		err error
	)
	if commander != nil {
		reply, derr := commander.Do(command)
		r, err = reply, derr
	} else {
		reply, derr := cluster.Do(command)
		r, err = reply, derr
	}
	if err != nil {
		fmt.Fprintln(stdio.Stderr, "error:", err)
		return mainer.Failure
	}

	fmt.Fprintf(stdio.Stdout, "%v\n", r)
	return mainer.Success
}

func main() {
	var c cmd
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
