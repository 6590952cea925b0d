package rediscluster

import "strings"

// Command is a single Redis invocation submitted to the cluster. It
// plays the role of the "external" Command object named in spec §6:
// a name, a computable target slot, and (via Controller.Send) a
// resolve/reject pair backed by a future.
type Command struct {
	Name string
	Args []interface{}

	slot    int
	slotSet bool
}

// NewCommand builds a Command, eagerly noting nothing about its slot
// until Slot() is first called (cheap commands like PING never pay
// for hashing).
func NewCommand(name string, args ...interface{}) *Command {
	return &Command{Name: name, Args: args}
}

// Slot returns the command's target hash slot, or -1 if the command
// carries no key (spec §3, Command).
func (c *Command) Slot() int {
	if !c.slotSet {
		c.slot = CmdSlot(c.Name, c.Args...)
		c.slotSet = true
	}
	return c.slot
}

const (
	flagEnterSubscriberMode = "ENTER_SUBSCRIBER_MODE"
	flagExitSubscriberMode  = "EXIT_SUBSCRIBER_MODE"
)

// PinnedNode is a caller-provided affordance for sticky routing (spec
// §9, Open Question): when supplied with Slot set, it names the
// target slot instead of the command computing its own; the Router
// caches the resolved handle into it on first use so subsequent sends
// through the same PinnedNode reuse the same node.
type PinnedNode struct {
	Slot int

	node *NodeHandle
}

// commandInfo is the registry entry consulted by the Router to decide
// read routing eligibility and subscriber-mode membership (spec §6,
// "command-registry helper").
type commandInfo struct {
	readonly        bool
	enterSubscriber bool
	exitSubscriber  bool
}

// commandRegistry mirrors the command-registry helper named in spec
// §6: exists(name) and hasFlag(name, "readonly"). Seeded with the
// common read-only commands plus the subscriber-mode entry/exit set.
var commandRegistry = map[string]commandInfo{
	"GET":         {readonly: true},
	"MGET":        {readonly: true},
	"STRLEN":      {readonly: true},
	"EXISTS":      {readonly: true},
	"TTL":         {readonly: true},
	"PTTL":        {readonly: true},
	"TYPE":        {readonly: true},
	"SCAN":        {readonly: true},
	"HGET":        {readonly: true},
	"HGETALL":     {readonly: true},
	"HMGET":       {readonly: true},
	"HKEYS":       {readonly: true},
	"HVALS":       {readonly: true},
	"HLEN":        {readonly: true},
	"LRANGE":      {readonly: true},
	"LLEN":        {readonly: true},
	"SMEMBERS":    {readonly: true},
	"SISMEMBER":   {readonly: true},
	"SCARD":       {readonly: true},
	"ZRANGE":      {readonly: true},
	"ZRANGEBYSCORE": {readonly: true},
	"ZSCORE":      {readonly: true},
	"ZCARD":       {readonly: true},
	"GETRANGE":    {readonly: true},
	"MGETRANGE":   {readonly: true},
	"DBSIZE":      {readonly: true},
	"RANDOMKEY":   {readonly: true},
	"EVAL_RO":     {readonly: true},
	"EVALSHA_RO":  {readonly: true},
	"PING":        {readonly: true},
	"SUBSCRIBE":    {readonly: true, enterSubscriber: true},
	"PSUBSCRIBE":   {readonly: true, enterSubscriber: true},
	"UNSUBSCRIBE":  {readonly: true, exitSubscriber: true},
	"PUNSUBSCRIBE": {readonly: true, exitSubscriber: true},
}

func commandExists(name string) bool {
	_, ok := commandRegistry[strings.ToUpper(name)]
	return ok
}

func commandIsReadonly(name string) bool {
	return commandRegistry[strings.ToUpper(name)].readonly
}

func commandHasFlag(name, flag string) bool {
	info := commandRegistry[strings.ToUpper(name)]
	switch flag {
	case flagEnterSubscriberMode:
		return info.enterSubscriber
	case flagExitSubscriberMode:
		return info.exitSubscriber
	}
	return false
}
