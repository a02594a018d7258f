package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/yakr/config"
	"github.com/najoast/yakr/logging"
	"github.com/najoast/yakr/plugin"
)

const waitFor = 5 * time.Second

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func echo(ctx context.Context, in <-chan string, out chan<- string) error {
	for line := range in {
		if _, text, ok := strings.Cut(line, " PRIVMSG #yakr :!echo "); ok {
			if !plugin.Emit(ctx, out, "PRIVMSG #yakr :"+text) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func runAsync(app *Application) <-chan error {
	result := make(chan error, 1)
	go func() { result <- app.Run(context.Background()) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(waitFor):
		t.Fatal("application did not stop")
		return nil
	}
}

func TestReplaySession(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "yakr.yaml")
	writeFile(t, cfgPath, `
bot:
  nick: Dot
  channels: ["#yakr"]
  plugins: [autojoin, echo]
`)
	logPath := filepath.Join(dir, "session.log")
	writeFile(t, logPath, strings.Join([]string{
		"< NICK Dot",
		"< USER Dot localhost localhost :Dot the bot",
		"> :irc.example.net 001 Dot :Welcome",
		"< JOIN #yakr",
		"> PING :irc.example.net",
		"< PONG :irc.example.net",
		"> :alice!a@host PRIVMSG #yakr :!echo hi",
		"< PRIVMSG #yakr :hi",
	}, "\n")+"\n")

	app, err := NewApplication(Options{
		ConfigFile: cfgPath,
		Replay:     logPath,
		Logger:     logging.Nop,
		Builtins:   map[string]plugin.Func{"echo": echo},
	})
	require.NoError(t, err)
	defer app.Close()

	_, ok := app.ReplayResult()
	assert.False(t, ok)

	require.NoError(t, app.Run(context.Background()))

	res, ok := app.ReplayResult()
	require.True(t, ok)
	assert.True(t, res.OK(), "%+v", res)
	assert.Equal(t, 3, res.Injected)
	assert.Equal(t, 5, res.Compared)
}

func TestReplayReportsMismatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.log")
	writeFile(t, logPath, "< NICK Someone\n< USER Dot localhost localhost :Dot the bot\n")

	app, err := NewApplication(Options{
		ConfigFile: filepath.Join(writeConfigDir(t, "{}"), "yakr.yaml"),
		Replay:     logPath,
		Logger:     logging.Nop,
	})
	require.NoError(t, err)

	require.NoError(t, app.Run(context.Background()), "mismatches are not fatal")
	res, ok := app.ReplayResult()
	require.True(t, ok)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, "NICK Dot", res.Mismatches[0].Got)
}

func TestReplayTimeoutMovesPastUnansweredLine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.log")
	writeFile(t, logPath, strings.Join([]string{
		"< NICK Dot",
		"< USER Dot localhost localhost :Dot the bot",
		"< PRIVMSG #yakr :never sent",
		"> PING :srv",
		"< PONG :srv",
	}, "\n")+"\n")

	app, err := NewApplication(Options{
		ConfigFile:    filepath.Join(writeConfigDir(t, "{}"), "yakr.yaml"),
		Replay:        logPath,
		ReplayTimeout: 200 * time.Millisecond,
		Logger:        logging.Nop,
	})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Run(context.Background()))
	res, ok := app.ReplayResult()
	require.True(t, ok)
	assert.Equal(t, 1, res.Injected)
	assert.Equal(t, 4, res.Compared)
	require.Len(t, res.Mismatches, 1, "%+v", res)
	assert.Equal(t, 3, res.Mismatches[0].Line)
	assert.True(t, res.Mismatches[0].TimedOut)
	assert.Empty(t, res.Unexpected)
}

func writeConfigDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "yakr.yaml"), content)
	return dir
}

func TestNewApplicationErrors(t *testing.T) {
	dir := writeConfigDir(t, "{}")

	_, err := NewApplication(Options{
		ConfigFile: filepath.Join(dir, "yakr.yaml"),
		Record:     filepath.Join(dir, "a.log"),
		Replay:     filepath.Join(dir, "b.log"),
		Logger:     logging.Nop,
	})
	assert.ErrorIs(t, err, config.ErrConflictingSession)

	_, err = NewApplication(Options{ConfigFile: filepath.Join(dir, "missing.yaml"), Logger: logging.Nop})
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "load config", appErr.Operation)

	_, err = NewApplication(Options{
		ConfigFile: filepath.Join(dir, "yakr.yaml"),
		Logger:     logging.Nop,
		Builtins:   map[string]plugin.Func{"autojoin": echo},
	})
	assert.Error(t, err, "builtins cannot shadow autojoin")
}

func TestRunFailsWithoutServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	dir := writeConfigDir(t, fmt.Sprintf("network:\n  tcp:\n    host: 127.0.0.1\n    port: %d\n", port))
	app, err := NewApplication(Options{ConfigFile: filepath.Join(dir, "yakr.yaml"), Logger: logging.Nop})
	require.NoError(t, err)

	err = app.Run(context.Background())
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "connect", appErr.Operation)
}

type fakeServer struct {
	listener net.Listener
	conns    chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	s := &fakeServer{listener: listener, conns: make(chan net.Conn, 1)}
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			s.conns <- conn
		}
	}()
	return s
}

func (s *fakeServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) accept(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn, bufio.NewReader(conn)
	case <-time.After(waitFor):
		t.Fatal("bot did not connect")
		return nil, nil
	}
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\r\n")
}

func TestLiveSessionWithHotReload(t *testing.T) {
	server := newFakeServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "yakr.yaml")
	base := fmt.Sprintf("network:\n  tcp:\n    host: 127.0.0.1\n    port: %d\n", server.port())
	writeFile(t, cfgPath, base+"bot:\n  plugins: []\n")

	recordPath := filepath.Join(dir, "session.log")
	app, err := NewApplication(Options{
		ConfigFile: cfgPath,
		Record:     recordPath,
		Logger:     logging.Nop,
		Builtins:   map[string]plugin.Func{"echo": echo},
	})
	require.NoError(t, err)
	result := runAsync(app)

	conn, r := server.accept(t)
	assert.Equal(t, "NICK Dot", readLine(t, conn, r))
	assert.Equal(t, "USER Dot localhost localhost :Dot the bot", readLine(t, conn, r))

	_, err = conn.Write([]byte("PING :srv\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "PONG :srv", readLine(t, conn, r))

	require.Eventually(t, func() bool { return app.Plugins() != nil }, waitFor, 20*time.Millisecond)
	writeFile(t, cfgPath, base+"bot:\n  plugins: [echo]\n")
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"echo"}, app.Plugins())
	}, waitFor, 20*time.Millisecond)

	_, err = conn.Write([]byte(":alice!a@host PRIVMSG #yakr :!echo hi\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG #yakr :hi", readLine(t, conn, r))

	conn.Close()
	require.NoError(t, waitResult(t, result))

	data, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "> PING :srv\n< PONG :srv\n")
	assert.Contains(t, string(data), "< PRIVMSG #yakr :hi\n")
}

func TestShutdownStopsLiveSession(t *testing.T) {
	server := newFakeServer(t)
	dir := writeConfigDir(t, fmt.Sprintf("network:\n  tcp:\n    host: 127.0.0.1\n    port: %d\n", server.port()))

	app, err := NewApplication(Options{ConfigFile: filepath.Join(dir, "yakr.yaml"), Logger: logging.Nop})
	require.NoError(t, err)
	result := runAsync(app)

	conn, r := server.accept(t)
	assert.Equal(t, "NICK Dot", readLine(t, conn, r))
	require.Eventually(t, func() bool { return app.Plugins() != nil }, waitFor, 20*time.Millisecond)

	assert.Error(t, app.Run(context.Background()), "already running")

	app.Shutdown()
	require.NoError(t, waitResult(t, result))
}

type fakePluginSet struct {
	loaded []string
	ops    []string
}

func (f *fakePluginSet) Load(name string) (bool, error) {
	f.ops = append(f.ops, "load "+name)
	f.loaded = append(f.loaded, name)
	return true, nil
}

func (f *fakePluginSet) Unload(name string) bool {
	f.ops = append(f.ops, "unload "+name)
	for i, n := range f.loaded {
		if n == name {
			f.loaded = append(f.loaded[:i], f.loaded[i+1:]...)
			return true
		}
	}
	return false
}

func TestReconcilePlugins(t *testing.T) {
	set := &fakePluginSet{loaded: []string{"a", "b"}}
	reconcilePlugins(set, []string{"a", "b"}, []string{"b", "c"}, logging.Nop)

	assert.Equal(t, []string{"unload a", "load c"}, set.ops)
	assert.Equal(t, []string{"b", "c"}, set.loaded)
}

func TestLoggerFollowsAppConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.App.Name = "testbot"
	cfg.App.Version = "2.3.4"
	cfg.Log.Output = filepath.Join(dir, "quiet.log")

	logger, closer, err := newLogger(cfg)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.Log.Output)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
	assert.Contains(t, string(data), "app=testbot")
	assert.Contains(t, string(data), "version=2.3.4")
	assert.Contains(t, string(data), "environment=production")

	cfg.App.Debug = true
	cfg.Log.Output = filepath.Join(dir, "debug.log")
	logger, closer, err = newLogger(cfg)
	require.NoError(t, err)
	logger.Debug("visible")
	require.NoError(t, closer.Close())

	data, err = os.ReadFile(cfg.Log.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")

	cfg.App.Debug = false
	cfg.App.Environment = config.EnvDevelopment
	cfg.Log.Level = config.LogLevelError
	cfg.Log.Output = filepath.Join(dir, "dev.log")
	logger, closer, err = newLogger(cfg)
	require.NoError(t, err)
	logger.Debug("development")
	require.NoError(t, closer.Close())

	data, err = os.ReadFile(cfg.Log.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "development")
}
