// Package main implements a sequential batch evaluation client. The service
// rejects concurrent dispatches for the same paper and offers no server-side
// batch primitive, so pacing lives here: one dispatch at a time, a
// configurable delay between papers, and polling until each finishes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/logging"
)

func main() {
	var (
		server     = flag.String("server", "http://localhost:7860", "paperlens server base URL")
		apiKey     = flag.String("api-key", "", "API key, when the server requires one")
		ids        = flag.String("ids", "", "comma-separated arXiv ids to evaluate")
		date       = flag.String("date", "", "evaluate every paper from this daily page (YYYY-MM-DD, empty with -ids unset means today)")
		delay      = flag.Duration("delay", 5*time.Second, "pause between papers")
		poll       = flag.Duration("poll", 3*time.Second, "status poll interval")
		timeout    = flag.Duration("timeout", 10*time.Minute, "per-paper wait budget")
		reevaluate = flag.Bool("reevaluate", false, "replace existing evaluations")
	)
	flag.Parse()

	logger, err := logging.New(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{
		base:   strings.TrimRight(*server, "/"),
		apiKey: *apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}

	targets, err := resolveTargets(ctx, c, *ids, *date)
	if err != nil {
		logger.Fatal("resolve papers", zap.Error(err))
	}
	if len(targets) == 0 {
		logger.Info("nothing to evaluate")
		return
	}
	logger.Info("starting batch", zap.Int("papers", len(targets)),
		zap.Duration("delay", *delay), zap.Bool("reevaluate", *reevaluate))

	var done, skipped, failed int
	for i, id := range targets {
		if ctx.Err() != nil {
			logger.Warn("interrupted", zap.Int("remaining", len(targets)-i))
			break
		}
		outcome, err := c.dispatch(ctx, id, *reevaluate)
		if err != nil {
			logger.Error("dispatch failed", zap.String("arxiv_id", id), zap.Error(err))
			failed++
			continue
		}
		switch outcome {
		case "already_evaluated":
			logger.Info("already evaluated, skipping", zap.String("arxiv_id", id))
			skipped++
		case "started", "already_running":
			status, err := c.await(ctx, id, *poll, *timeout)
			if err != nil {
				logger.Error("wait failed", zap.String("arxiv_id", id), zap.Error(err))
				failed++
			} else if status == "completed" {
				logger.Info("evaluation completed", zap.String("arxiv_id", id))
				done++
			} else {
				logger.Warn("evaluation failed", zap.String("arxiv_id", id))
				failed++
			}
		default:
			logger.Warn("unexpected dispatch outcome",
				zap.String("arxiv_id", id), zap.String("outcome", outcome))
			failed++
		}

		if i < len(targets)-1 {
			select {
			case <-time.After(*delay):
			case <-ctx.Done():
			}
		}
	}
	logger.Info("batch finished",
		zap.Int("completed", done), zap.Int("skipped", skipped), zap.Int("failed", failed))
}

func resolveTargets(ctx context.Context, c *client, ids, date string) ([]string, error) {
	if ids != "" {
		var out []string
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
		return out, nil
	}
	return c.dailyIDs(ctx, date)
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) request(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) dailyIDs(ctx context.Context, date string) ([]string, error) {
	path := "/api/daily"
	if date != "" {
		path += "?date=" + date
	}
	var body struct {
		Cards []struct {
			ArxivID string `json:"arxiv_id"`
		} `json:"cards"`
	}
	code, err := c.request(ctx, http.MethodGet, path, &body)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("daily page returned HTTP %d", code)
	}
	var ids []string
	for _, card := range body.Cards {
		if card.ArxivID != "" {
			ids = append(ids, card.ArxivID)
		}
	}
	return ids, nil
}

func (c *client) dispatch(ctx context.Context, id string, reevaluate bool) (string, error) {
	path := "/api/papers/evaluate/" + id
	if reevaluate {
		path = "/api/papers/reevaluate/" + id
	}
	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	code, err := c.request(ctx, http.MethodPost, path, &body)
	if err != nil {
		return "", err
	}
	switch {
	case code == http.StatusAccepted || code == http.StatusConflict:
		return body.Status, nil
	case body.Error != "":
		return "", fmt.Errorf("HTTP %d: %s", code, body.Error)
	default:
		return "", fmt.Errorf("HTTP %d", code)
	}
}

// await polls the status endpoint until the evaluation reaches a terminal
// state or the budget runs out.
func (c *client) await(ctx context.Context, id string, poll, budget time.Duration) (string, error) {
	deadline := time.Now().Add(budget)
	for {
		var body struct {
			Status string `json:"status"`
		}
		code, err := c.request(ctx, http.MethodGet, "/api/papers/evaluate/"+id+"/status", &body)
		if err != nil {
			return "", err
		}
		if code != http.StatusOK {
			return "", fmt.Errorf("status returned HTTP %d", code)
		}
		if body.Status == "completed" || body.Status == "failed" {
			return body.Status, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("still %s after %s", body.Status, budget)
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
