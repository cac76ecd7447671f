package submit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

type embedded struct {
	contentID string
	method    string
	path      string
	body      notification
}

func decodeBatch(t *testing.T, body []byte, contentType string) []embedded {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	var out []embedded
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "application/http", part.Header.Get("Content-Type"))

		req, err := http.ReadRequest(bufio.NewReader(part))
		require.NoError(t, err)
		var n notification
		require.NoError(t, json.NewDecoder(req.Body).Decode(&n))
		out = append(out, embedded{
			contentID: part.Header.Get("Content-ID"),
			method:    req.Method,
			path:      req.URL.Path,
			body:      n,
		})
	}
	return out
}

func TestBuildBatch(t *testing.T) {
	t.Parallel()

	body, contentType, err := BuildBatch(indexer.OperationUpdate, "", []string{"https://a", "https://b"})
	require.NoError(t, err)

	parts := decodeBatch(t, body, contentType)
	require.Len(t, parts, 2)
	for i, p := range parts {
		assert.Equal(t, fmt.Sprintf("<item-%d>", i), p.contentID)
		assert.Equal(t, http.MethodPost, p.method)
		assert.Equal(t, DefaultPublishPath, p.path)
		assert.Equal(t, indexer.OperationUpdate, p.body.Type)
	}
	assert.Equal(t, "https://a", parts[0].body.URL)
	assert.Equal(t, "https://b", parts[1].body.URL)
}

func TestBuildBatchDeleteAndEscaping(t *testing.T) {
	t.Parallel()

	u := `https://example.com/search?q="go"&lang=en`
	body, contentType, err := BuildBatch(indexer.OperationDelete, "/custom:publish", []string{u})
	require.NoError(t, err)

	parts := decodeBatch(t, body, contentType)
	require.Len(t, parts, 1)
	assert.Equal(t, u, parts[0].body.URL)
	assert.Equal(t, indexer.OperationDelete, parts[0].body.Type)
	assert.Equal(t, "/custom:publish", parts[0].path)
}

func TestBuildBatchLimits(t *testing.T) {
	t.Parallel()

	_, _, err := BuildBatch(indexer.OperationUpdate, "", nil)
	require.Error(t, err)

	tooMany := make([]string, indexer.MaxChunkSize+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	_, _, err = BuildBatch(indexer.OperationUpdate, "", tooMany)
	require.Error(t, err)

	_, _, err = BuildBatch(indexer.OperationUpdate, "", tooMany[:indexer.MaxChunkSize])
	require.NoError(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	outcome, err := Classify(http.StatusOK, nil)
	require.NoError(t, err)
	assert.Equal(t, indexer.OutcomeSuccess, outcome)

	outcome, err = Classify(http.StatusTooManyRequests, nil)
	require.ErrorIs(t, err, indexer.ErrQuotaExceeded)
	assert.Equal(t, indexer.OutcomeFailure, outcome)

	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError, http.StatusNoContent} {
		outcome, err = Classify(status, nil)
		require.ErrorIs(t, err, indexer.ErrUnexpectedStatus)
		assert.Equal(t, indexer.OutcomeFailure, outcome)
	}

	outcome, err = Classify(0, errors.New("connection reset"))
	require.ErrorIs(t, err, indexer.ErrTransport)
	assert.Equal(t, indexer.OutcomeFailure, outcome)
}
