package aria2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"aria2bot/internal/domain"
)

// newTestServer returns a client pointed at a stub RPC endpoint. The handler
// receives the decoded request and returns either a result or an rpc error
// message.
func newTestServer(t *testing.T, handle func(req rpcRequest) (any, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, errMsg := handle(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if errMsg != "" {
			resp["error"] = map[string]any{"code": 1, "message": errMsg}
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "s3cret")
}

func TestAddURISendsToken(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		if req.Method != "aria2.addUri" {
			t.Errorf("method = %q, want aria2.addUri", req.Method)
		}
		if len(req.Params) < 2 {
			t.Fatalf("params = %v, want token and uris", req.Params)
		}
		if req.Params[0] != "token:s3cret" {
			t.Errorf("first param = %v, want token:s3cret", req.Params[0])
		}
		return "gid123", ""
	})

	gid, err := client.AddURI(context.Background(), "https://example.com/file.iso")
	if err != nil {
		t.Fatalf("AddURI: %v", err)
	}
	if gid != "gid123" {
		t.Errorf("gid = %q, want gid123", gid)
	}
}

func TestTellStatusParsesStringNumbers(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		return map[string]any{
			"gid":             "abc",
			"status":          "active",
			"totalLength":     "104857600",
			"completedLength": "52428800",
			"downloadSpeed":   "1048576",
			"uploadSpeed":     "0",
			"dir":             "/downloads",
			"files": []map[string]any{
				{"path": "/downloads/movies/film.mkv"},
			},
		}, ""
	})

	task, err := client.TellStatus(context.Background(), "abc")
	if err != nil {
		t.Fatalf("TellStatus: %v", err)
	}
	if task.GID != "abc" {
		t.Errorf("gid = %q", task.GID)
	}
	if task.Status != domain.TaskStatusActive {
		t.Errorf("status = %v, want active", task.Status)
	}
	if task.TotalLength != 104857600 {
		t.Errorf("totalLength = %d", task.TotalLength)
	}
	if task.CompletedLength != 52428800 {
		t.Errorf("completedLength = %d", task.CompletedLength)
	}
	if task.Name != "film.mkv" {
		t.Errorf("name = %q, want film.mkv", task.Name)
	}
}

func TestTellStatusNameFromURI(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		return map[string]any{
			"gid":    "abc",
			"status": "waiting",
			"files": []map[string]any{
				{
					"path": "",
					"uris": []map[string]any{{"uri": "https://example.com/a/b/archive.zip?token=1"}},
				},
			},
		}, ""
	})

	task, err := client.TellStatus(context.Background(), "abc")
	if err != nil {
		t.Fatalf("TellStatus: %v", err)
	}
	if task.Name != "archive.zip" {
		t.Errorf("name = %q, want archive.zip", task.Name)
	}
}

func TestNotFoundMapping(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		return nil, fmt.Sprintf("GID %v is not found", req.Params[1])
	})

	_, err := client.TellStatus(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
}

func TestGenericErrorNotMappedToNotFound(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		return nil, "Unauthorized"
	})

	err := client.Pause(context.Background(), "abc")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = true, want false", err)
	}
}

func TestGlobalStat(t *testing.T) {
	client := newTestServer(t, func(req rpcRequest) (any, string) {
		return map[string]any{
			"downloadSpeed": "2048",
			"uploadSpeed":   "512",
			"numActive":     "2",
			"numWaiting":    "1",
			"numStopped":    "5",
		}, ""
	})

	stats, err := client.GlobalStat(context.Background())
	if err != nil {
		t.Fatalf("GlobalStat: %v", err)
	}
	if stats.DownloadSpeed != 2048 || stats.UploadSpeed != 512 {
		t.Errorf("speeds = %d/%d", stats.DownloadSpeed, stats.UploadSpeed)
	}
	if stats.NumActive != 2 || stats.NumWaiting != 1 || stats.NumStopped != 5 {
		t.Errorf("counts = %d/%d/%d", stats.NumActive, stats.NumWaiting, stats.NumStopped)
	}
}
