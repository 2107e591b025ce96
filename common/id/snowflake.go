package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Each server and
// worker replica needs a distinct node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// Falls back to node 0 when Init was never called (tests, one-off tools).
func New() int64 {
	if node == nil {
		_ = Init(0)
	}
	return node.Generate().Int64()
}
