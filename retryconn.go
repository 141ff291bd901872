package ioredis

import (
	"github.com/yohaiaga/ioredis/resp"
)

// AutoRetry wraps a connection obtained from Cluster.Bind so that a
// MOVED or ASK reply is followed automatically instead of being
// returned to the caller.
// Only Do and Close are meaningful on the result — Pipeline is
// rejected, since a bound pipeline already must stay on one slot and
// following a mid-batch redirection would require re-dispatching
// commands the caller may have already observed partial results for.
// Generalizes redisc's RetryConn, which restricted its wrapped
// *Conn to Do/Close/Err for the same reason.
func AutoRetry(conn *Connection, cluster *Cluster) Commander {
	return &retryCommander{conn: conn, cluster: cluster}
}

type retryCommander struct {
	conn    *Connection
	cluster *Cluster
}

func (rc *retryCommander) Do(cmd *Command) (resp.Reply, error) {
	remaining := rc.cluster.opts.MaxRedirections
	asking := false
	target := rc.conn

	for {
		if asking {
			if _, err := target.Do(Asking()); err != nil {
				return resp.Reply{}, err
			}
			asking = false
		}

		fresh := cmd.Clone()
		r, err := target.Do(fresh)
		if err == nil {
			return r, nil
		}

		if remaining <= 0 {
			return resp.Reply{}, newError(KindMaxRedirections, "redirection limit reached for %s", cmd.Name)
		}

		switch ReplyClassOf(err) {
		case ReplyMoved:
			remaining--
			re := ParseRedir(err)
			if re == nil {
				return r, err
			}
			conn, roleChanged, derr := rc.cluster.pool.FindOrCreate(re.Addr, false)
			if derr != nil {
				return r, derr
			}
			if roleChanged {
				if derr := ensureRole(conn, false); derr != nil {
					return r, derr
				}
			}
			rc.cluster.rememberRedirect(re.NewSlot, re.Addr)
			go rc.cluster.Refresh()
			target = conn
			continue
		case ReplyAsk:
			remaining--
			re := ParseRedir(err)
			if re == nil {
				return r, err
			}
			conn, roleChanged, derr := rc.cluster.pool.FindOrCreate(re.Addr, false)
			if derr != nil {
				return r, derr
			}
			if roleChanged {
				if derr := ensureRole(conn, false); derr != nil {
					return r, derr
				}
			}
			target = conn
			asking = true
			continue
		default:
			return r, err
		}
	}
}

// Pipeline is unsupported on a retrying single-node commander: a
// redirection discovered mid-batch cannot be safely retried once some
// sub-commands may have already taken effect, the same restriction
// redisc's retryConn.Send/Receive/Flush enforce. Run always fails;
// callers that need cluster-aware pipelining should use Cluster.Pipeline.
func (rc *retryCommander) Pipeline() *Pipeline {
	return unsupportedPipeline(newError(KindAbort, "Pipeline is not supported on an AutoRetry-wrapped connection"))
}

func (rc *retryCommander) Close() error {
	return rc.conn.Disconnect(false)
}
