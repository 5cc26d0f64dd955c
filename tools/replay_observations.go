// Command replay_observations tails an NDJSON observation log and feeds each
// record to a running tracer's observe endpoint, so a leak report captured in
// one environment can be reproduced against a local instance.
//
// Each input line is one observation:
//
//	{"object_id":"o1","method_signature":"PooledBuffer.retain","ref_count":2}
//
// Usage:
//
//	replay_observations -file observations.ndjson -target http://localhost:8080 [-follow]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/nxadm/tail"
)

type observation struct {
	ObjectID        string `json:"object_id"`
	MethodSignature string `json:"method_signature"`
	RefCount        int    `json:"ref_count"`
	Direct          bool   `json:"direct,omitempty"`
}

func main() {
	var (
		file      string
		target    string
		follow    bool
		batchSize int
	)
	flag.StringVar(&file, "file", "", "Path to the NDJSON observation log")
	flag.StringVar(&target, "target", "http://localhost:8080", "Base URL of the tracer's management API")
	flag.BoolVar(&follow, "follow", false, "Keep tailing the file for new observations")
	flag.IntVar(&batchSize, "batch", 100, "Observations per POST")
	flag.Parse()

	if file == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(1)
	}

	t, err := tail.TailFile(file, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to tail %s: %v\n", file, err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := target + "/api/v1/observe"

	batch := make([]observation, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := post(client, endpoint, batch); err != nil {
			fmt.Fprintf(os.Stderr, "post failed: %v\n", err)
		}
		batch = batch[:0]
	}

	lines := 0
	skipped := 0
	flushTicker := time.NewTicker(time.Second)
	defer flushTicker.Stop()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				flush()
				fmt.Printf("replayed %d observations (%d lines skipped)\n", lines, skipped)
				return
			}
			if line.Err != nil {
				fmt.Fprintf(os.Stderr, "tail error: %v\n", line.Err)
				continue
			}
			var obs observation
			if err := json.Unmarshal([]byte(line.Text), &obs); err != nil || obs.MethodSignature == "" {
				skipped++
				continue
			}
			batch = append(batch, obs)
			lines++
			if len(batch) >= batchSize {
				flush()
			}
		case <-flushTicker.C:
			flush()
		}
	}
}

func post(client *http.Client, endpoint string, batch []observation) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
