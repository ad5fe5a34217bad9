package main

import (
	"fmt"
	"time"

	"github.com/Bren2010/snaptree/tree/ledger"
)

type InsertRequest struct {
	Value []byte
	Resp  chan<- InsertResponse
}

type InsertResponse struct {
	Result *ledger.InsertResult
	Err    error
}

// inserter is a goroutine that receives insertion requests over `ch`, adds the
// requested value to the tree, and responds with the new root. It exits when
// `ch` is closed.
func inserter(tree *ledger.Tree, ch <-chan InsertRequest) {
	for req := range ch {
		start := time.Now()
		res, err := tree.Insert(req.Value)
		insertOps.WithLabelValues(fmt.Sprint(err == nil)).Inc()
		insertDur.Observe(float64(time.Since(start).Microseconds()))
		if err == nil {
			treeSize.Set(float64(res.Position + 1))
		}

		select {
		case req.Resp <- InsertResponse{res, err}:
		default:
		}
	}
}
