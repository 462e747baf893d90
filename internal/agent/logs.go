package agent

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/thobiasn/loglens/internal/logview"
)

const (
	logBatchSize    = 100
	logFlushTimeout = 1 * time.Second
)

// LogTailer follows the logs of running containers and stores them with
// the container name as the replica.
type LogTailer struct {
	client  *client.Client
	store   *Store
	tailers map[string]context.CancelFunc // container ID -> cancel
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func NewLogTailer(c *client.Client, store *Store) *LogTailer {
	return &LogTailer{
		client:  c,
		store:   store,
		tailers: make(map[string]context.CancelFunc),
	}
}

// Sync starts tailers for new running containers and stops tailers for
// containers that are gone or stopped.
func (lt *LogTailer) Sync(ctx context.Context, containers []Container) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	active := make(map[string]bool)
	for _, c := range containers {
		if c.State != "running" {
			continue
		}
		active[c.ID] = true
		if _, ok := lt.tailers[c.ID]; ok {
			continue
		}
		tctx, cancel := context.WithCancel(ctx)
		lt.tailers[c.ID] = cancel
		lt.wg.Add(1)
		go lt.tail(tctx, c.ID, c.Name)
	}

	for id, cancel := range lt.tailers {
		if !active[id] {
			cancel()
			delete(lt.tailers, id)
		}
	}
}

// Active returns the number of running tailers.
func (lt *LogTailer) Active() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.tailers)
}

// Stop cancels all tailers and waits for their last batch to flush.
func (lt *LogTailer) Stop() {
	lt.mu.Lock()
	for id, cancel := range lt.tailers {
		cancel()
		delete(lt.tailers, id)
	}
	lt.mu.Unlock()
	lt.wg.Wait()
}

// rawLine is one demuxed line before level inference.
type rawLine struct {
	ts     time.Time
	stream string
	text   string
}

func (lt *LogTailer) tail(ctx context.Context, id, name string) {
	defer lt.wg.Done()

	logs, err := lt.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
		Timestamps: true,
	})
	if err != nil {
		slog.Warn("failed to start log tail", "container", name, "error", err)
		return
	}
	defer logs.Close()

	// The Docker client does not always unblock reads on cancel.
	go func() {
		<-ctx.Done()
		logs.Close()
	}()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		stdcopy.StdCopy(stdoutW, stderrW, logs)
	}()

	in := make(chan rawLine, logBatchSize)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanLines(stdoutR, "stdout", in)
	}()
	go func() {
		defer readers.Done()
		scanLines(stderrR, "stderr", in)
	}()
	go func() {
		readers.Wait()
		close(in)
	}()

	batchLines(in, name, logFlushTimeout, func(batch []logview.Line) {
		// Flush on a fresh context so the last batch survives cancellation.
		if _, err := lt.store.InsertLines(context.Background(), batch); err != nil {
			slog.Warn("failed to insert logs", "container", name, "error", err)
		}
	})
}

// batchLines converts raw lines to log lines and hands them to flush in
// batches of logBatchSize or every interval, whichever comes first.
// Indented lines are folded into the preceding line of the same stream so
// stack traces stay one entry. It returns when in is closed.
func batchLines(in <-chan rawLine, replica string, interval time.Duration, flush func([]logview.Line)) {
	var (
		batch      []logview.Line
		lastStream string
	)
	send := func() {
		if len(batch) == 0 {
			return
		}
		flush(batch)
		batch = nil
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-in:
			if !ok {
				send()
				return
			}
			if isContinuation(raw.text) && len(batch) > 0 && raw.stream == lastStream {
				last := &batch[len(batch)-1]
				last.Msg += "\n" + raw.text
				continue
			}
			batch = append(batch, toLine(raw, replica))
			lastStream = raw.stream
			if len(batch) >= logBatchSize {
				send()
				timer.Reset(interval)
			}
		case <-timer.C:
			send()
			timer.Reset(interval)
		}
	}
}

func isContinuation(text string) bool {
	return strings.HasPrefix(text, " ") || strings.HasPrefix(text, "\t")
}

func toLine(raw rawLine, replica string) logview.Line {
	lvl, ok := InferLevel(raw.text)
	if !ok {
		lvl = logview.Info
	}
	return logview.Line{
		TS:      raw.ts.Unix(),
		Level:   lvl,
		Msg:     ExtractDisplayMsg(raw.text),
		Replica: replica,
	}
}

func scanLines(r io.Reader, stream string, out chan<- rawLine) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		ts, text := parseTimestamp(scanner.Text())
		out <- rawLine{ts: ts, stream: stream, text: text}
	}
}

// parseTimestamp splits the RFC3339Nano prefix Docker adds with
// Timestamps enabled. Lines without one are stamped with the current time.
func parseTimestamp(line string) (time.Time, string) {
	if len(line) > 20 && line[4] == '-' && line[10] == 'T' {
		if prefix, rest, ok := strings.Cut(line, " "); ok {
			if ts, err := time.Parse(time.RFC3339Nano, prefix); err == nil {
				return ts, rest
			}
		}
	}
	return time.Now(), line
}
