package ioredis

import "github.com/yohaiaga/ioredis/resp"

// Commander is the external surface shared by a single Connection
// (wrapped with AsCommander) and an AutoRetry-wrapped connection. Cluster
// does not implement it: its Pipeline method takes the commands and
// returns their replies directly. Do returns the decoded reply or one of
// the Kind errors.
type Commander interface {
	Do(cmd *Command) (resp.Reply, error)
	Pipeline() *Pipeline
	Close() error
}

// connCommander adapts *Connection to Commander.
type connCommander struct{ c *Connection }

// AsCommander wraps conn as a Commander.
func AsCommander(conn *Connection) Commander { return connCommander{c: conn} }

func (cc connCommander) Do(cmd *Command) (resp.Reply, error) { return cc.c.Do(cmd) }
func (cc connCommander) Pipeline() *Pipeline                 { return NewPipeline(cc.c) }
func (cc connCommander) Close() error                        { return cc.c.Disconnect(false) }
