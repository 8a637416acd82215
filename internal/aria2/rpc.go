package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"aria2bot/internal/domain"
)

// RPCError is the single failure kind surfaced by the RPC client. Callers
// only distinguish "task not found" from everything else.
type RPCError struct {
	Message  string
	NotFound bool
}

func (e *RPCError) Error() string {
	return e.Message
}

// IsNotFound reports whether err means the GID is unknown to aria2, i.e. the
// task disappeared rather than a transient failure.
func IsNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.NotFound
}

// Client talks to the aria2 JSON-RPC endpoint. It holds no state beyond the
// connection parameters.
type Client struct {
	url    string
	secret string
	http   *http.Client
}

func NewClient(url, secret string) *Client {
	return &Client{
		url:    url,
		secret: secret,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	// aria2 expects the token as the first positional parameter.
	finalParams := make([]any, 0, len(params)+1)
	if c.secret != "" {
		finalParams = append(finalParams, "token:"+c.secret)
	}
	finalParams = append(finalParams, params...)

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  finalParams,
	})
	if err != nil {
		return nil, &RPCError{Message: fmt.Sprintf("encode rpc request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &RPCError{Message: fmt.Sprintf("build rpc request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return nil, &RPCError{Message: "aria2 is not reachable, start the service first"}
		}
		return nil, &RPCError{Message: fmt.Sprintf("rpc request failed: %v", err)}
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &RPCError{Message: fmt.Sprintf("decode rpc response: %v", err)}
	}

	if rpcResp.Error != nil {
		msg := rpcResp.Error.Message
		return nil, &RPCError{
			Message:  msg,
			NotFound: strings.Contains(msg, "not found") || strings.Contains(msg, "No such download"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RPCError{Message: fmt.Sprintf("rpc http status %d", resp.StatusCode)}
	}
	return rpcResp.Result, nil
}

// AddURI submits an HTTP/HTTPS/magnet source and returns the assigned GID.
// The caller is responsible for URL validation.
func (c *Client) AddURI(ctx context.Context, uri string) (string, error) {
	res, err := c.call(ctx, "aria2.addUri", []string{uri})
	if err != nil {
		return "", err
	}
	return decodeString(res)
}

// AddTorrent submits raw torrent metadata, base64-encoded per the aria2
// protocol, and returns the assigned GID.
func (c *Client) AddTorrent(ctx context.Context, data []byte) (string, error) {
	res, err := c.call(ctx, "aria2.addTorrent", base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return "", err
	}
	return decodeString(res)
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.pause", gid)
	return err
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.unpause", gid)
	return err
}

func (c *Client) Remove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.remove", gid)
	return err
}

func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.forceRemove", gid)
	return err
}

// RemoveDownloadResult clears a stopped task's record. Callers treat
// failures as non-fatal.
func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.removeDownloadResult", gid)
	return err
}

var statusKeys = []string{
	"gid", "status", "totalLength", "completedLength",
	"downloadSpeed", "uploadSpeed", "files", "errorMessage", "dir",
}

// TellStatus fetches a single task snapshot. A not-found error means the
// task disappeared from aria2, which polling loops treat as a silent stop.
func (c *Client) TellStatus(ctx context.Context, gid string) (domain.Task, error) {
	res, err := c.call(ctx, "aria2.tellStatus", gid, statusKeys)
	if err != nil {
		return domain.Task{}, err
	}
	var raw rawTask
	if err := json.Unmarshal(res, &raw); err != nil {
		return domain.Task{}, &RPCError{Message: fmt.Sprintf("decode task: %v", err)}
	}
	return raw.toDomain(), nil
}

func (c *Client) TellActive(ctx context.Context) ([]domain.Task, error) {
	res, err := c.call(ctx, "aria2.tellActive", statusKeys)
	if err != nil {
		return nil, err
	}
	return decodeTaskList(res)
}

func (c *Client) TellWaiting(ctx context.Context, offset, count int) ([]domain.Task, error) {
	res, err := c.call(ctx, "aria2.tellWaiting", offset, count, statusKeys)
	if err != nil {
		return nil, err
	}
	return decodeTaskList(res)
}

func (c *Client) TellStopped(ctx context.Context, offset, count int) ([]domain.Task, error) {
	res, err := c.call(ctx, "aria2.tellStopped", offset, count, statusKeys)
	if err != nil {
		return nil, err
	}
	return decodeTaskList(res)
}

func (c *Client) GlobalStat(ctx context.Context) (domain.GlobalStats, error) {
	res, err := c.call(ctx, "aria2.getGlobalStat")
	if err != nil {
		return domain.GlobalStats{}, err
	}
	var raw struct {
		DownloadSpeed string `json:"downloadSpeed"`
		UploadSpeed   string `json:"uploadSpeed"`
		NumActive     string `json:"numActive"`
		NumWaiting    string `json:"numWaiting"`
		NumStopped    string `json:"numStopped"`
	}
	if err := json.Unmarshal(res, &raw); err != nil {
		return domain.GlobalStats{}, &RPCError{Message: fmt.Sprintf("decode global stat: %v", err)}
	}
	return domain.GlobalStats{
		DownloadSpeed: parseInt64(raw.DownloadSpeed),
		UploadSpeed:   parseInt64(raw.UploadSpeed),
		NumActive:     int(parseInt64(raw.NumActive)),
		NumWaiting:    int(parseInt64(raw.NumWaiting)),
		NumStopped:    int(parseInt64(raw.NumStopped)),
	}, nil
}

// rawTask matches the aria2 wire shape, where every number arrives as a
// decimal string.
type rawTask struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	UploadSpeed     string `json:"uploadSpeed"`
	ErrorMessage    string `json:"errorMessage"`
	Dir             string `json:"dir"`
	Files           []struct {
		Path string `json:"path"`
		URIs []struct {
			URI string `json:"uri"`
		} `json:"uris"`
	} `json:"files"`
}

func (r rawTask) toDomain() domain.Task {
	return domain.Task{
		GID:             r.GID,
		Status:          domain.ParseTaskStatus(r.Status),
		Name:            r.displayName(),
		TotalLength:     parseInt64(r.TotalLength),
		CompletedLength: parseInt64(r.CompletedLength),
		DownloadSpeed:   parseInt64(r.DownloadSpeed),
		UploadSpeed:     parseInt64(r.UploadSpeed),
		ErrorMessage:    r.ErrorMessage,
		Dir:             r.Dir,
	}
}

// displayName derives a best-effort name from the first file path, falling
// back to the first source URI when aria2 has no path yet.
func (r rawTask) displayName() string {
	if len(r.Files) == 0 {
		return "unknown"
	}
	if path := r.Files[0].Path; path != "" {
		parts := strings.Split(path, "/")
		return parts[len(parts)-1]
	}
	if len(r.Files[0].URIs) > 0 {
		uri := r.Files[0].URIs[0].URI
		base := strings.Split(uri, "?")[0]
		parts := strings.Split(base, "/")
		if name := parts[len(parts)-1]; name != "" {
			return name
		}
		if len(uri) > 30 {
			return uri[:30]
		}
		return uri
	}
	return "unknown"
}

func decodeTaskList(res json.RawMessage) ([]domain.Task, error) {
	var raws []rawTask
	if err := json.Unmarshal(res, &raws); err != nil {
		return nil, &RPCError{Message: fmt.Sprintf("decode task list: %v", err)}
	}
	tasks := make([]domain.Task, len(raws))
	for i := range raws {
		tasks[i] = raws[i].toDomain()
	}
	return tasks, nil
}

func decodeString(res json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(res, &s); err != nil {
		return "", &RPCError{Message: fmt.Sprintf("unexpected rpc result: %v", err)}
	}
	return s, nil
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
