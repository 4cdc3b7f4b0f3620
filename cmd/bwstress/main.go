// Command bwstress drives a mixed concurrent workload against an in-memory
// Bw-Tree and reports throughput and tree statistics. With --verify the
// final contents are checked against an ordered model of the last write to
// every key.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alexhholmes/bwtree"
	"github.com/alexhholmes/bwtree/logger"
)

type cli struct {
	Workers     int           `help:"Number of concurrent workers" default:"8" env:"BWSTRESS_WORKERS"`
	Ops         int           `help:"Operations per worker" default:"200000" env:"BWSTRESS_OPS"`
	Keys        int           `help:"Keys owned by each worker" default:"50000" env:"BWSTRESS_KEYS"`
	ReadRatio   float64       `help:"Fraction of operations that are reads" default:"0.5" env:"BWSTRESS_READ_RATIO"`
	DeleteRatio float64       `help:"Fraction of operations that are deletes" default:"0.1" env:"BWSTRESS_DELETE_RATIO"`
	Consolidate int           `help:"Delta chain length that triggers consolidation" default:"8"`
	MaxEntries  int           `help:"Entries above which a page splits" default:"64"`
	MinEntries  int           `help:"Entries below which a page merges" default:"16"`
	Sessions    bool          `help:"Register a session per worker instead of pinning per operation"`
	Verify      bool          `help:"Check the final tree contents against a model"`
	Listen      string        `help:"Serve Prometheus metrics on this address while running" env:"BWSTRESS_LISTEN"`
	Linger      time.Duration `help:"Keep serving metrics this long after the run" default:"0s"`
	Debug       bool          `help:"Log tree events"`
}

// worker is the subset of the tree API shared by trees and sessions.
type worker interface {
	Get(key []byte) ([]byte, error)
	Insert(key, value []byte) error
	Delete(key []byte) (bool, error)
}

type entry struct {
	key, value []byte
}

func main() {
	var params cli
	kong.Parse(&params)

	if params.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(params.Listen, mux); err != nil {
				log.Fatalln("HTTP serve:", err)
			}
		}()
	}

	if err := run(params); err != nil {
		log.Println("bwstress:", err)
		os.Exit(1)
	}

	if params.Listen != "" && params.Linger > 0 {
		time.Sleep(params.Linger)
	}
}

func run(params cli) error {
	opts := []bwtree.Option{
		bwtree.WithConsolidateThreshold(params.Consolidate),
		bwtree.WithPageSize(params.MinEntries, params.MaxEntries),
		bwtree.WithMaxSessions(params.Workers + 64),
	}
	if params.Debug {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = zl.Sync() }()
		opts = append(opts, bwtree.WithLogger(logger.NewZap(zl)))
	}

	tree, err := bwtree.New(opts...)
	if err != nil {
		return err
	}

	models := make([]map[string][]byte, params.Workers)
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < params.Workers; w++ {
		w := w
		models[w] = make(map[string][]byte)
		g.Go(func() error {
			var wk worker = tree
			if params.Sessions {
				s, err := tree.Register()
				if err != nil {
					return err
				}
				defer s.Deregister()
				wk = s
			}
			return runWorker(wk, params, w, models[w])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	total := int64(params.Workers) * int64(params.Ops)
	fmt.Printf("%s operations in %v (%s ops/s)\n",
		humanize.Comma(total), elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(float64(total)/elapsed.Seconds(), 0))
	printStats(tree.Stats())

	if params.Verify {
		if err := verify(tree, models); err != nil {
			return err
		}
		fmt.Println("verify: ok")
	}

	return tree.Close()
}

// runWorker owns every key whose index is congruent to id modulo the
// number of workers, so its model is the ground truth for those keys.
func runWorker(wk worker, params cli, id int, model map[string][]byte) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for i := 0; i < params.Ops; i++ {
		k := []byte(fmt.Sprintf("key%010d", rng.Intn(params.Keys)*params.Workers+id))
		r := rng.Float64()

		switch {
		case r < params.ReadRatio:
			v, err := wk.Get(k)
			want, present := model[string(k)]
			switch {
			case errors.Is(err, bwtree.ErrKeyNotFound):
				if present {
					return fmt.Errorf("get %s: lost write", k)
				}
			case err != nil:
				return err
			case !bytes.Equal(v, want):
				return fmt.Errorf("get %s: got %q want %q", k, v, want)
			}

		case r < params.ReadRatio+params.DeleteRatio:
			if _, err := wk.Delete(k); err != nil {
				return err
			}
			delete(model, string(k))

		default:
			v := []byte(fmt.Sprintf("w%d-op%d", id, i))
			if err := wk.Insert(k, v); err != nil {
				return err
			}
			model[string(k)] = v
		}
	}
	return nil
}

func verify(tree *bwtree.Tree, models []map[string][]byte) error {
	want := btree.NewG[entry](32, func(a, b entry) bool {
		return bytes.Compare(a.key, b.key) < 0
	})
	for _, model := range models {
		for k, v := range model {
			want.ReplaceOrInsert(entry{[]byte(k), v})
		}
	}

	it := tree.Scan(nil)
	defer it.Close()

	var mismatch error
	want.Ascend(func(e entry) bool {
		if !it.Next() {
			mismatch = fmt.Errorf("verify: tree ended before %s", e.key)
			return false
		}
		if !bytes.Equal(it.Key(), e.key) || !bytes.Equal(it.Value(), e.value) {
			mismatch = fmt.Errorf("verify: got %s=%q want %s=%q", it.Key(), it.Value(), e.key, e.value)
			return false
		}
		return true
	})
	if mismatch != nil {
		return mismatch
	}
	if it.Next() {
		return fmt.Errorf("verify: unexpected key %s", it.Key())
	}
	return it.Err()
}

func printStats(s bwtree.Stats) {
	fmt.Printf("pages:          %s\n", humanize.Comma(s.Pages))
	fmt.Printf("height:         %d\n", s.Height)
	fmt.Printf("conflicts:      %s\n", humanize.Comma(s.Conflicts))
	fmt.Printf("consolidations: %s\n", humanize.Comma(s.Consolidations))
	fmt.Printf("splits:         %s\n", humanize.Comma(s.Splits))
	fmt.Printf("merges:         %s\n", humanize.Comma(s.Merges))
	fmt.Printf("helps:          %s\n", humanize.Comma(s.Helps))
	fmt.Printf("epoch:          %d (%s pending, %s reclaimed)\n",
		s.Epoch, humanize.Comma(int64(s.PendingGarbage)), humanize.Comma(int64(s.Reclaimed)))
}
