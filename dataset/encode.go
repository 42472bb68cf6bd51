package dataset

import (
	"context"
	"runtime"
	"sync"

	"github.com/unixpickle/essentials"
)

// A TextEncoder converts text into a fixed-length token
// sequence and its attention mask.
//
// It must be safe to call Encode concurrently.
type TextEncoder interface {
	Encode(text string) (ids, mask []int, err error)
}

// Encoded is a tokenized example.
type Encoded struct {
	IDs   []int
	Mask  []int
	Label int
}

// Encode tokenizes examples using a pool of goroutines.
//
// If maxGos is 0, GOMAXPROCS is used.
// Unlabeled examples are given the label 0.
// Every sequence must have the same length.
func Encode(ctx context.Context, enc TextEncoder, examples []*Example,
	maxGos int) (Set, error) {
	res := make(Set, len(examples))

	idxChan := make(chan int, len(examples))
	for i := range examples {
		idxChan <- i
	}
	close(idxChan)

	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	wg := sync.WaitGroup{}
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				if err := ctx.Err(); err != nil {
					errChan <- err
					return
				}
				ids, mask, err := enc.Encode(examples[i].Text)
				if err != nil {
					errChan <- essentials.AddCtx("encode examples", err)
					return
				}
				res[i] = &Encoded{IDs: ids, Mask: mask, Label: examples[i].Label}
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	if err := res.checkLengths(); err != nil {
		return nil, essentials.AddCtx("encode examples", err)
	}
	return res, nil
}
