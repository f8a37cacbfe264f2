package conn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// HTTPTransport delivers messages to nodes addressed by their base URL.
type HTTPTransport struct {
	client *http.Client
	paths  map[uint8]string
	logger hclog.Logger
}

// NewHTTPTransport creates a transport whose requests time out after timeout.
// paths maps every message type to the route that receives it.
func NewHTTPTransport(timeout time.Duration, paths map[uint8]string, logger hclog.Logger) *HTTPTransport {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "PBFT-net",
			Output: hclog.DefaultOutput,
			Level:  hclog.DefaultLevel,
		})
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
		paths:  paths,
		logger: logger,
	}
}

// SendMsg posts msg to target and fails unless the receiver answers 2xx.
func (h *HTTPTransport) SendMsg(target string, msgType uint8, msg interface{}) error {
	status, body, err := h.post(target, msgType, msg)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%s answered %d: %s", target, status, bytes.TrimSpace(body))
	}
	return nil
}

// RequestMsg posts msg to target and returns the response body whatever
// the status code is.
func (h *HTTPTransport) RequestMsg(target string, msgType uint8, msg interface{}) ([]byte, error) {
	_, body, err := h.post(target, msgType, msg)
	return body, err
}

func (h *HTTPTransport) post(target string, msgType uint8, msg interface{}) (int, []byte, error) {
	path, ok := h.paths[msgType]
	if !ok {
		return 0, nil, fmt.Errorf("type of the msg (%d) is unknown", msgType)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, err
	}
	url := strings.TrimRight(target, "/") + path
	resp, err := h.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	h.logger.Trace("msg is delivered", "url", url, "status", resp.StatusCode)
	return resp.StatusCode, body, nil
}
