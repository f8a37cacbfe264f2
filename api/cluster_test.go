package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/gitzhang10/pbftchain/config"
	"github.com/gitzhang10/pbftchain/conn"
	"github.com/gitzhang10/pbftchain/pbft"
	"github.com/gitzhang10/pbftchain/store"
)

// setupHTTPCluster starts num nodes that reach each other through the
// HTTP transport and the router, addressed by their base URLs.
func setupHTTPCluster(t *testing.T, num int) []string {
	logger := hclog.New(&hclog.LoggerOptions{Name: "PBFT-api", Level: hclog.Error})
	servers := make([]*httptest.Server, num)
	urls := make([]string, num)
	for i := range servers {
		servers[i] = httptest.NewUnstartedServer(nil)
		urls[i] = "http://" + servers[i].Listener.Addr().String()
	}
	for i, srv := range servers {
		conf := config.New(urls[i], urls, secret, int(hclog.Error), config.TransportHTTP, "", "", 10, time.Second)
		trans := conn.NewHTTPTransport(time.Second, pbft.Paths, logger)
		node := pbft.NewNode(conf, store.NewMemStore(), trans, nil)
		srv.Config.Handler = NewRouter(node, nil, logger)
		srv.Start()
		t.Cleanup(srv.Close)
	}
	return urls
}

func fetchChain(url string) (*chainResponse, error) {
	resp, err := http.Get(url + "/blocks")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var chain chainResponse
	if err = json.NewDecoder(resp.Body).Decode(&chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

func requireChainLength(t *testing.T, urls []string, length int) {
	for _, url := range urls {
		require.Eventually(t, func() bool {
			chain, err := fetchChain(url)
			return err == nil && chain.Length == length
		}, 5*time.Second, 20*time.Millisecond, "chain of %s", url)
	}
}

func TestHTTPClusterWith4Nodes(t *testing.T) {
	urls := setupHTTPCluster(t, 4)

	// a backup forwards to the primary and relays its answer
	code, body := post(t, urls[3]+"/propose", map[string]string{"value": "X"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, urls[0], body["forwarded_to"])
	relayed, ok := body["status"].(string)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"preprepare_broadcast","value":"X"}`, relayed)
	requireChainLength(t, urls, 1)

	code, body = post(t, urls[0]+"/propose", map[string]string{"value": "Y"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "preprepare_broadcast", body["status"])
	requireChainLength(t, urls, 2)

	primaryChain, err := fetchChain(urls[0])
	require.NoError(t, err)
	require.Equal(t, "X", primaryChain.Chain[0].Value)
	require.Equal(t, "", primaryChain.Chain[0].PrevHash)
	require.Equal(t, "Y", primaryChain.Chain[1].Value)
	require.Equal(t, primaryChain.Chain[0].BlockHash, primaryChain.Chain[1].PrevHash)
	for _, url := range urls[1:] {
		chain, err := fetchChain(url)
		require.NoError(t, err)
		require.Equal(t, primaryChain, chain)
	}

	for _, url := range urls {
		require.Eventually(t, func() bool {
			resp, err := http.Get(url + "/status?value=X")
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			var s pbft.Status
			return json.NewDecoder(resp.Body).Decode(&s) == nil && s.Decided && s.PrepareCount == 4
		}, 5*time.Second, 20*time.Millisecond)
	}
}
