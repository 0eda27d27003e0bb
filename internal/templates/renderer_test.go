package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererRestrictsEnvironmentAndFilesystemHelpers(t *testing.T) {
	renderer := NewRenderer(nil)
	t.Setenv("PLUGIN_AUTHENTICATION_TOKEN", "secret")

	for _, source := range []string{
		`{{ env "PLUGIN_AUTHENTICATION_TOKEN" }}`,
		`{{ expandenv "$PLUGIN_AUTHENTICATION_TOKEN" }}`,
		`{{ readFile "/etc/passwd" }}`,
	} {
		_, err := renderer.CompileInline("restricted", source)
		require.Error(t, err, "expected %s to be rejected", source)
	}
}

func TestRendererInlineTemplates(t *testing.T) {
	renderer := NewRenderer(nil)

	tests := map[string]struct {
		source string
		data   map[string]any
		want   string
	}{
		"plain field": {
			source: `<a href="{{ .click_url }}">{{ .title }}</a>`,
			data:   map[string]any{"click_url": "https://ads.example/c", "title": "Shoes"},
			want:   `<a href="https://ads.example/c">Shoes</a>`,
		},
		"sprig helpers": {
			source: `{{ .name | upper }}-{{ default "none" .missing }}`,
			data:   map[string]any{"name": "feed"},
			want:   "FEED-none",
		},
		"missing key renders zero": {
			source: `[{{ .absent }}]`,
			data:   map[string]any{},
			want:   "[<no value>]",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tmpl, err := renderer.CompileInline(name, tc.source)
			require.NoError(t, err)
			require.Equal(t, name, tmpl.Name())
			rendered, err := tmpl.Render(tc.data)
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}
}

func TestRendererBlankSourceYieldsNil(t *testing.T) {
	tmpl, err := NewRenderer(nil).CompileInline("blank", "  \n")
	require.NoError(t, err)
	require.Nil(t, tmpl)

	_, err = tmpl.Render(nil)
	require.Error(t, err)
	require.Empty(t, tmpl.Name())
}

func TestRendererCompileErrors(t *testing.T) {
	_, err := NewRenderer(nil).CompileInline("", "{{ .unterminated ")
	require.ErrorContains(t, err, `compile "inline"`)
}

func TestRendererCompileFileHonoursSandbox(t *testing.T) {
	dir := t.TempDir()
	allowedDir := filepath.Join(dir, "layouts")
	require.NoError(t, os.MkdirAll(allowedDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(allowedDir, "banner.tmpl"), []byte("hello {{ .name }}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "escape.tmpl"), []byte("nope"), 0o600))
	sandbox, err := NewSandbox(allowedDir)
	require.NoError(t, err)
	renderer := NewRenderer(sandbox)
	require.Same(t, sandbox, renderer.Sandbox())

	tests := map[string]struct {
		path    string
		want    string
		wantErr bool
	}{
		"renders file inside sandbox": {path: "banner.tmpl", want: "hello world"},
		"rejects escaping sandbox":    {path: "../escape.tmpl", wantErr: true},
		"missing file":                {path: "absent.tmpl", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tmpl, err := renderer.CompileFile(tc.path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			rendered, err := tmpl.Render(map[string]any{"name": "world"})
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}
}

func TestRendererCompileFileRequiresSandbox(t *testing.T) {
	_, err := NewRenderer(nil).CompileFile("banner.tmpl")
	require.ErrorContains(t, err, "require a sandbox")
}
