package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFunc func(ctx context.Context, pageURL string, width, height int) ([]byte, error)

func (f engineFunc) Capture(ctx context.Context, pageURL string, width, height int) ([]byte, error) {
	return f(ctx, pageURL, width, height)
}

func pathOf(t *testing.T, pageURL string) string {
	t.Helper()
	u, err := url.Parse(pageURL)
	require.NoError(t, err)
	return filepath.FromSlash(u.Path)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRenderSuccessRemovesTransientMarkup(t *testing.T) {
	scratch := t.TempDir()
	var seen string

	engine := engineFunc(func(_ context.Context, pageURL string, width, height int) ([]byte, error) {
		seen = pathOf(t, pageURL)
		data, err := os.ReadFile(seen)
		require.NoError(t, err)
		assert.Equal(t, "<html>ok</html>", string(data))
		assert.Equal(t, "http_10_0_0_1_80.html", filepath.Base(seen))
		assert.Equal(t, DefaultWidth, width)
		assert.Equal(t, DefaultHeight, height)
		return []byte("png"), nil
	})

	a := NewAdapter(engine, Options{ScratchDir: scratch})
	img, err := a.Render(context.Background(), "http_10_0_0_1_80", []byte("<html>ok</html>"), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)

	require.NotEmpty(t, seen)
	assert.NoFileExists(t, seen)
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderEngineFailure(t *testing.T) {
	scratch := t.TempDir()
	engine := engineFunc(func(context.Context, string, int, int) ([]byte, error) {
		return nil, errors.New("browser crashed")
	})

	_, err := NewAdapter(engine, Options{ScratchDir: scratch}).Render(context.Background(), "x", []byte("<html/>"), 10, 10)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonEngine, rerr.Reason)
	entries, _ := os.ReadDir(scratch)
	assert.Empty(t, entries)
}

func TestRenderEnginePanic(t *testing.T) {
	scratch := t.TempDir()
	engine := engineFunc(func(context.Context, string, int, int) ([]byte, error) {
		panic("engine exploded")
	})

	_, err := NewAdapter(engine, Options{ScratchDir: scratch}).Render(context.Background(), "x", []byte("<html/>"), 10, 10)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonEngine, rerr.Reason)
	assert.Contains(t, rerr.Error(), "engine exploded")
	entries, _ := os.ReadDir(scratch)
	assert.Empty(t, entries)
}

func TestRenderTimeout(t *testing.T) {
	scratch := t.TempDir()
	release := make(chan struct{})
	defer close(release)

	// ignores its context on purpose
	engine := engineFunc(func(context.Context, string, int, int) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})

	start := time.Now()
	_, err := NewAdapter(engine, Options{ScratchDir: scratch, Timeout: 200 * time.Millisecond}).
		Render(context.Background(), "x", []byte("<html/>"), 10, 10)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonTimeout, rerr.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
	entries, _ := os.ReadDir(scratch)
	assert.Empty(t, entries)
}

func TestRenderEmptyImage(t *testing.T) {
	engine := engineFunc(func(context.Context, string, int, int) ([]byte, error) {
		return nil, nil
	})

	_, err := NewAdapter(engine, Options{ScratchDir: t.TempDir()}).Render(context.Background(), "x", nil, 10, 10)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonEngine, rerr.Reason)
}

func TestRenderUnwritableScratch(t *testing.T) {
	engine := engineFunc(func(context.Context, string, int, int) ([]byte, error) {
		t.Fatal("engine must not run")
		return nil, nil
	})

	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	_, err := NewAdapter(engine, Options{ScratchDir: missing}).Render(context.Background(), "x", nil, 10, 10)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasonArtifact, rerr.Reason)
}

func TestFileURL(t *testing.T) {
	u := FileURL("/tmp/render-1/page.html")
	assert.Equal(t, "file:///tmp/render-1/page.html", u)
}

func TestImprint(t *testing.T) {
	src := testPNG(t, 200, 100)

	out, err := Imprint(src, "https://example.com:443/login")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100+41, img.Bounds().Dy())
}

func TestImprintRejectsNonPNG(t *testing.T) {
	_, err := Imprint([]byte("not an image"), "http://example.com")
	assert.Error(t, err)
}

func TestChromeDPCapture(t *testing.T) {
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no browser available")
	}

	page := filepath.Join(t.TempDir(), "page.html")
	markup := `<html><body><h1>hi</h1><script>throw new Error("ignored")</script></body></html>`
	require.NoError(t, os.WriteFile(page, []byte(markup), 0o600))

	opts := DefaultBrowserOptions()
	opts.ExecPath = bin

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	img, err := NewChromeDP(opts).Capture(ctx, FileURL(page), 640, 480)
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 640, decoded.Bounds().Dx())
	assert.Equal(t, 480, decoded.Bounds().Dy())
}

func TestRodCapture(t *testing.T) {
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no browser available")
	}

	page := filepath.Join(t.TempDir(), "page.html")
	markup := `<html><body><h1>hi</h1><script>throw new Error("ignored")</script></body></html>`
	require.NoError(t, os.WriteFile(page, []byte(markup), 0o600))

	opts := DefaultBrowserOptions()
	opts.ExecPath = bin

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	img, err := NewRod(opts).Capture(ctx, FileURL(page), 640, 480)
	if err != nil {
		t.Skipf("rod unavailable: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 640, decoded.Bounds().Dx())
	assert.Equal(t, 480, decoded.Bounds().Dy())
}
