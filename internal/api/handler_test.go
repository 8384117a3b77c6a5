package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersmith/miniledger/internal/domain"
	"github.com/ledgersmith/miniledger/internal/events"
	"github.com/ledgersmith/miniledger/internal/ledger"
	"github.com/ledgersmith/miniledger/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := ledger.NewEngine(memory.New(), events.LogPublisher{})
	server := httptest.NewServer(NewHandler(engine).Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, idempotencyKey string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func createAccount(t *testing.T, server *httptest.Server, owner string) domain.Account {
	t.Helper()
	resp, body := doJSON(t, "POST", server.URL+"/api/v1/accounts", "", map[string]string{"owner_name": owner})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var account domain.Account
	require.NoError(t, json.Unmarshal(body, &account))
	return account
}

func TestCreateAccountEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("created", func(t *testing.T) {
		account := createAccount(t, server, "alice")
		assert.Equal(t, "alice", account.OwnerName)
		assert.Equal(t, int64(0), account.Balance)
	})

	t.Run("missing owner_name", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", server.URL+"/api/v1/accounts", "", map[string]string{})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest("POST", server.URL+"/api/v1/accounts", bytes.NewBufferString("{"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetAccountEndpoint(t *testing.T) {
	server := newTestServer(t)
	account := createAccount(t, server, "alice")

	t.Run("found", func(t *testing.T) {
		resp, body := doJSON(t, "GET", server.URL+"/api/v1/accounts/"+account.ID.String(), "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var fetched domain.Account
		require.NoError(t, json.Unmarshal(body, &fetched))
		assert.Equal(t, account.ID, fetched.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, _ := doJSON(t, "GET", server.URL+"/api/v1/accounts/00000000-0000-0000-0000-000000000001", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, _ := doJSON(t, "GET", server.URL+"/api/v1/accounts/not-a-uuid", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMovementEndpoints(t *testing.T) {
	server := newTestServer(t)
	account := createAccount(t, server, "alice")
	depositURL := fmt.Sprintf("%s/api/v1/accounts/%s/deposit", server.URL, account.ID)
	withdrawURL := fmt.Sprintf("%s/api/v1/accounts/%s/withdraw", server.URL, account.ID)

	t.Run("missing idempotency key", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", depositURL, "", map[string]any{"amount": 100})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("deposit", func(t *testing.T) {
		resp, body := doJSON(t, "POST", depositURL, "dep-1", map[string]any{"amount": 500, "memo": "payday"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var updated domain.Account
		require.NoError(t, json.Unmarshal(body, &updated))
		assert.Equal(t, int64(500), updated.Balance)
	})

	t.Run("replay is byte identical", func(t *testing.T) {
		_, first := doJSON(t, "POST", depositURL, "dep-2", map[string]any{"amount": 100})
		_, second := doJSON(t, "POST", depositURL, "dep-2", map[string]any{"amount": 100})
		assert.Equal(t, first, second)
	})

	t.Run("key reuse with different payload", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", depositURL, "dep-2", map[string]any{"amount": 999})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", depositURL, "dep-3", map[string]any{"amount": 0})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("withdraw insufficient funds", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", withdrawURL, "wd-1", map[string]any{"amount": 100000})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestTransferEndpoint(t *testing.T) {
	server := newTestServer(t)
	source := createAccount(t, server, "alice")
	dest := createAccount(t, server, "bob")
	depositURL := fmt.Sprintf("%s/api/v1/accounts/%s/deposit", server.URL, source.ID)
	doJSON(t, "POST", depositURL, "fund", map[string]any{"amount": 1000})
	transferURL := server.URL + "/api/v1/transfers"

	t.Run("success", func(t *testing.T) {
		resp, body := doJSON(t, "POST", transferURL, "tr-1", map[string]any{
			"source_account_id": source.ID,
			"dest_account_id":   dest.ID,
			"amount":            250,
			"memo":              "split",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result domain.TransferResult
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, int64(750), result.Source.Balance)
		assert.Equal(t, int64(250), result.Dest.Balance)
	})

	t.Run("self transfer", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", transferURL, "tr-2", map[string]any{
			"source_account_id": source.ID,
			"dest_account_id":   source.ID,
			"amount":            10,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", transferURL, "tr-3", map[string]any{
			"source_account_id": source.ID,
			"dest_account_id":   "7b7e8f3a-1111-2222-3333-444455556666",
			"amount":            10,
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestStatementEndpoint(t *testing.T) {
	server := newTestServer(t)
	account := createAccount(t, server, "alice")
	depositURL := fmt.Sprintf("%s/api/v1/accounts/%s/deposit", server.URL, account.ID)
	for i, amount := range []int64{100, 200, 300} {
		doJSON(t, "POST", depositURL, fmt.Sprintf("dep-%d", i), map[string]any{"amount": amount})
	}
	statementURL := fmt.Sprintf("%s/api/v1/accounts/%s/statement", server.URL, account.ID)

	t.Run("paged newest first", func(t *testing.T) {
		resp, body := doJSON(t, "GET", statementURL+"?limit=2", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var page domain.StatementPage
		require.NoError(t, json.Unmarshal(body, &page))
		require.Len(t, page.Items, 2)
		assert.Equal(t, int64(300), page.Items[0].Amount)
		assert.Equal(t, int64(200), page.Items[1].Amount)
		require.NotNil(t, page.NextCursor)

		resp, body = doJSON(t, "GET", statementURL+"?limit=2&cursor="+*page.NextCursor, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var next domain.StatementPage
		require.NoError(t, json.Unmarshal(body, &next))
		require.Len(t, next.Items, 1)
		assert.Equal(t, int64(100), next.Items[0].Amount)
		assert.Nil(t, next.NextCursor)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		resp, _ := doJSON(t, "GET", statementURL+"?cursor=garbage", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp, _ := doJSON(t, "GET", statementURL+"?limit=zero", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
