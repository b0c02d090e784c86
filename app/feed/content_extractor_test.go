package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
	<header><nav>Navigation</nav></header>
	<main>
		<article>
			<h1>Main Article Title</h1>
			<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
			<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
			<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information for readers.</p>
		</article>
	</main>
	<footer><p>Copyright 2024</p></footer>
</body>
</html>`

func newTestExtractor() *ContentExtractor {
	return NewContentExtractor(http.DefaultClient, "RSS-Planner/test", 5*time.Second)
}

func TestContentExtractor_Run_ValidHTML(t *testing.T) {
	result, err := newTestExtractor().Run([]byte(articlePage), nil)
	require.NoError(t, err)

	assert.Contains(t, result, "main content of the article")
	assert.NotContains(t, result, "Copyright 2024")
}

func TestContentExtractor_Run_EmptyData(t *testing.T) {
	result, err := newTestExtractor().Run(nil, nil)
	assert.Error(t, err)
	assert.Empty(t, result)
}

func TestContentExtractor_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "RSS-Planner/test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer server.Close()

	extractor := newTestExtractor()

	content, err := extractor.Extract(context.Background(), server.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, content, "another paragraph")

	_, err = extractor.Extract(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "HTTP error: 404")
}
