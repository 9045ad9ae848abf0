// Package integration provides end-to-end tests for the sandbox SFTP server.
package integration

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ajaxzhan/sandbox-sftp/internal/server"
	"github.com/ajaxzhan/sandbox-sftp/internal/sftpd"
)

const (
	testUser     = "sandbox"
	testPassword = "s3cret"
)

// testEnv holds the test environment.
type testEnv struct {
	server   *server.Server
	manager  *server.Manager
	grpcConn *grpc.ClientConn
	root     string
	cleanup  func()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()
	return addr
}

// setupTestEnv starts the admin server with defaults pointing at a fresh root.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	for path, content := range map[string]string{
		"docs/readme.md":    "# sandbox\n",
		"secrets/token.txt": "do not read",
		"public/notice.txt": "read only",
		"a/c/.keep":         "",
	} {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	manager := server.NewManager()
	defaults := server.StartOptions{
		Addr: "127.0.0.1:0",
		Config: sftpd.Config{
			RootDir:  root,
			Username: testUser,
			Password: testPassword,
		},
	}

	addr := freeAddr(t)
	srv, err := server.New(&server.Config{GRPCAddr: addr}, manager, defaults)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	return &testEnv{
		server:   srv,
		manager:  manager,
		grpcConn: conn,
		root:     root,
		cleanup: func() {
			conn.Close()
			srv.Stop()
		},
	}
}

func (env *testEnv) invoke(t *testing.T, method string, in map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(in)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := new(structpb.Struct)
	if err := env.grpcConn.Invoke(ctx, method, req, out, grpc.WaitForReady(true)); err != nil {
		t.Fatalf("%s failed: %v", method, err)
	}
	return out
}

func dialSFTP(t *testing.T, addr string) (*sftp.Client, func()) {
	t.Helper()
	sshConn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            testUser,
		Auth:            []ssh.AuthMethod{ssh.Password(testPassword)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("ssh dial failed: %v", err)
	}
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		t.Fatalf("sftp client failed: %v", err)
	}
	return client, func() {
		client.Close()
		sshConn.Close()
	}
}

// TestFullWorkflow drives the server the way an operator and a client would:
// Start via admin API -> upload -> list -> rename -> download -> Stop.
func TestFullWorkflow(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	t.Log("Step 1: Starting SFTP server...")
	st := env.invoke(t, server.MethodStart, map[string]any{
		"rules": []any{
			map[string]any{"pattern": "/secrets", "type": "directory", "access": "none", "priority": 100},
			map[string]any{"pattern": "/public", "type": "directory", "access": "read", "priority": 50},
			map[string]any{"pattern": "**", "type": "glob", "access": "write"},
		},
	})
	addr := st.GetFields()["addr"].GetStringValue()
	if addr == "" {
		t.Fatalf("expected an SFTP address, got %v", st)
	}

	client, closeClient := dialSFTP(t, addr)
	defer closeClient()

	t.Log("Step 2: Uploading file...")
	f, err := client.Create("/docs/hello.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("Hello, World!")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(env.root, "docs", "hello.txt")); err != nil || string(data) != "Hello, World!" {
		t.Fatalf("file on disk = %q, %v", data, err)
	}

	t.Log("Step 3: Listing root...")
	entries, err := client.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if want := []string{"a", "docs", "public"}; !equal(names, want) {
		t.Errorf("root listing = %v, want %v (secrets hidden)", names, want)
	}

	t.Log("Step 4: Renaming and downloading...")
	if err := client.Rename("/docs/hello.txt", "/docs/greeting.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	rf, err := client.Open("/docs/greeting.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, err := io.ReadAll(rf)
	rf.Close()
	if err != nil || string(data) != "Hello, World!" {
		t.Errorf("downloaded %q, %v", data, err)
	}

	t.Log("Step 5: Checking access rules...")
	if _, err := client.Stat("/secrets/token.txt"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected hidden file to be reported missing, got %v", err)
	}
	if _, err := client.Create("/public/new.txt"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("expected write to read-only dir to be denied, got %v", err)
	}
	if _, err := client.Stat("/../../etc/passwd"); err == nil {
		t.Error("expected escape to fail")
	}
	if p, err := client.RealPath("/a/./b/../c"); err != nil || p != "/a/c" {
		t.Errorf("RealPath = %q, %v; want /a/c", p, err)
	}

	t.Log("Step 6: Checking status...")
	status := env.invoke(t, server.MethodStatus, nil)
	if got := status.GetFields()["active_sessions"].GetNumberValue(); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}

	t.Log("Step 7: Stopping SFTP server...")
	stopped := env.invoke(t, server.MethodStop, nil)
	if stopped.GetFields()["running"].GetBoolValue() {
		t.Error("expected running=false after Stop")
	}
	if _, err := client.Stat("/docs"); err == nil {
		t.Error("expected the session to be closed by Stop")
	}
}

// TestRestartReplacesRoot checks that a second Start moves clients to the new root.
func TestRestartReplacesRoot(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	first := env.invoke(t, server.MethodStart, nil)
	client, closeClient := dialSFTP(t, first.GetFields()["addr"].GetStringValue())
	defer closeClient()
	if _, err := client.Stat("/docs/readme.md"); err != nil {
		t.Fatalf("Stat on first root failed: %v", err)
	}

	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(other, "only-here.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	second := env.invoke(t, server.MethodStart, map[string]any{"root_dir": other, "read_only": true})

	if _, err := client.Stat("/docs/readme.md"); err == nil {
		t.Error("expected the first server's session to be closed")
	}

	client2, closeClient2 := dialSFTP(t, second.GetFields()["addr"].GetStringValue())
	defer closeClient2()
	if _, err := client2.Stat("/only-here.txt"); err != nil {
		t.Errorf("Stat on new root failed: %v", err)
	}
	if _, err := client2.Stat("/docs"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the old tree to be gone, got %v", err)
	}
	if err := client2.Mkdir("/new"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("expected read-only root to deny mkdir, got %v", err)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
