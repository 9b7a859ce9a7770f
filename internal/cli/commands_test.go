package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaraline/incarnator/internal/models"
	"github.com/avaraline/incarnator/internal/store"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func execute(t *testing.T, args ...string) result {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) result {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := Execute(ctx, args, stdout, stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// setupConfig writes a configuration pointing at a fresh database and
// returns its path together with the database path.
func setupConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "incarnator.db")
	cfgPath := filepath.Join(dir, "incarnator.yaml")
	cfg := "database: " + dbPath + "\nstator:\n  concurrency: 4\n  concurrency_per_model: 2\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return cfgPath, dbPath
}

func seedIdentity(t *testing.T, dbPath string) models.Identity {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ident := models.Identity{
		Handle:   "alice",
		ActorURI: "https://example.com/users/alice",
		InboxURI: "https://example.com/users/alice/inbox",
		Local:    true,
	}
	now := time.Now()
	require.NoError(t, st.CreateIdentity(context.Background(), &ident, now.Add(-time.Minute)))
	post := models.Post{AuthorID: ident.ID, ObjectURI: "https://example.com/p/1", Local: true}
	require.NoError(t, st.CreatePost(context.Background(), &post, now.Add(-time.Minute)))
	return ident
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestGraphs_Text(t *testing.T) {
	res := execute(t, "graphs")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	for _, want := range []string{
		"# table hashtags",
		"graph hashtag (initial: outdated)",
		"graph push_notification",
		"graph post_interaction",
		"graph fan_out",
		"graph follow (initial: unrequested)",
		"graph block (initial: new)",
		"graph identity",
	} {
		assert.Contains(t, res.stdout, want)
	}
}

func TestGraphs_OneModelJSON(t *testing.T) {
	res := execute(t, "graphs", "block", "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var graphs []struct {
		Name    string `json:"name"`
		Table   string `json:"table"`
		Initial string `json:"initial"`
		States  []struct {
			Name              string `json:"name"`
			DelayFirstAttempt bool   `json:"delay_first_attempt"`
		} `json:"states"`
	}
	decodeData(t, res.stdout, &graphs)
	require.Len(t, graphs, 1)
	assert.Equal(t, "block", graphs[0].Name)
	assert.Equal(t, store.TableBlocks, graphs[0].Table)
	assert.Equal(t, string(models.BlockNew), graphs[0].Initial)

	delayed := []string{}
	for _, s := range graphs[0].States {
		if s.DelayFirstAttempt {
			delayed = append(delayed, s.Name)
		}
	}
	assert.Equal(t, []string{string(models.BlockAwaitingExpiry)}, delayed)
}

func TestGraphs_UnknownModel(t *testing.T) {
	res := execute(t, "graphs", "mailbox")
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, `unknown model "mailbox"`)
}

func TestConfigCheck(t *testing.T) {
	cfgPath, dbPath := setupConfig(t)

	res := execute(t, "config", "check", "--config", cfgPath)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "OK (database "+dbPath+", concurrency 4/2)")

	for name, content := range map[string]string{
		"database":   "main_domain: example.com\n",
		"batch_size": "database: db.sqlite\nstator:\n  batch_size: 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			bad := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(bad, []byte(content), 0644))

			res := execute(t, "config", "check", "--config", bad, "--format", "json")
			assert.Equal(t, ExitFailure, res.code)
			assert.Contains(t, res.stderr, `"status":"error"`)
			assert.Contains(t, res.stderr, name)
		})
	}
}

func TestMissingConfig(t *testing.T) {
	res := execute(t, "status", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stderr, "failed to load config")
}

func TestRunStatorOnce_ThenStatus(t *testing.T) {
	cfgPath, dbPath := setupConfig(t)
	seedIdentity(t, dbPath)

	res := execute(t, "status", "--config", cfgPath, "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var before []ModelStatus
	decodeData(t, res.stdout, &before)
	assert.Equal(t, []store.StateCount{{State: models.IdentityOutdated, Count: 1}}, statesOf(before, "identity"))
	assert.Empty(t, statesOf(before, "follow"))

	res = execute(t, "runstator", "--once", "--config", cfgPath)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stderr, "stator cycle complete")

	res = execute(t, "status", "--config", cfgPath)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "MODEL")
	assert.Regexp(t, `identity\s+updated\s+1\s+0\s+0`, res.stdout)
	assert.Regexp(t, `follow\s+-\s+0`, res.stdout)
}

func statesOf(report []ModelStatus, model string) []store.StateCount {
	for _, m := range report {
		if m.Model == model {
			return m.States
		}
	}
	return nil
}

func TestRunStator_StopsOnCancel(t *testing.T) {
	cfgPath, dbPath := setupConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		done <- executeContext(t, ctx, "runstator", "--config", cfgPath)
	}()

	select {
	case res := <-done:
		assert.Equal(t, ExitSuccess, res.code, res.stderr)
		assert.Contains(t, res.stderr, "stator stopped gracefully")
	case <-time.After(5 * time.Second):
		t.Fatal("runstator did not respect context cancellation")
	}

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database should be created")
}

type wakeRecorder chan struct{}

func (w wakeRecorder) Wake() { w <- struct{}{} }

func TestWakeOnSignal(t *testing.T) {
	sigs := make(chan os.Signal)
	woke := make(wakeRecorder, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		wakeOn(ctx, sigs, woke, slog.New(slog.DiscardHandler))
		close(done)
	}()

	sigs <- syscall.SIGHUP
	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not wake the runner")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wakeOn did not stop after cancel")
	}
}

func TestCalculateStats(t *testing.T) {
	cfgPath, dbPath := setupConfig(t)
	ident := seedIdentity(t, dbPath)

	res := execute(t, "calculatestats", "--config", cfgPath, "--format", "json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var out StatsResult
	decodeData(t, res.stdout, &out)
	assert.Equal(t, 1, out.Identities)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.GetIdentity(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.StatusesCount)
}
