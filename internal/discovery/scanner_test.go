package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScan_SingleServicePython(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "app.py", "print('hi')\n")
	writeFile(t, root, "src/db.py", "x = 1\n")
	writeFile(t, root, "requirements.txt", "flask==2.3.0\npsycopg2>=2.9\n# comment\n")

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, model.ShapeSingleService, idx.Shape)
	assert.Equal(t, []string{"python"}, idx.Languages)
	assert.Contains(t, idx.Frameworks, "pip")
	assert.Equal(t, "2.3.0", idx.Dependencies["flask"])
	assert.Equal(t, "2.9", idx.Dependencies["psycopg2"])
	assert.Equal(t, []string{filepath.Base(root)}, idx.Services)
}

func TestScan_MonorepoServices(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "packages/web/index.ts", "export {}\n")
	writeFile(t, root, "packages/api/server.ts", "export {}\n")
	writeFile(t, root, "apps/cli/main.go", "package main\n")

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, model.ShapeMonorepo, idx.Shape)
	assert.ElementsMatch(t, []string{"packages/web", "packages/api", "apps/cli"}, idx.Services)
	assert.ElementsMatch(t, []string{"typescript", "go"}, idx.Languages)
}

func TestScan_LibraryShape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "lib/parser.rb", "module Parser\nend\n")

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, model.ShapeLibrary, idx.Shape)
}

func TestScan_PackageJSONFrameworksAndDeps(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "index.js", "console.log(1)\n")
	writeFile(t, root, "package.json", `{
  "name": "demo",
  "dependencies": {
    "react": "^18.2.0",
    "express": "4.18.2"
  },
  "devDependencies": {
    "jest": "^29.0.0"
  }
}
`)

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Contains(t, idx.Frameworks, "react")
	assert.Contains(t, idx.Frameworks, "express")
	assert.Contains(t, idx.Frameworks, "jest")
	assert.Equal(t, "^18.2.0", idx.Dependencies["react"])
}

func TestScan_GoModDependencies(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "go.mod", `module example.com/demo

go 1.22

require (
	github.com/spf13/cobra v1.8.0
	github.com/stretchr/testify v1.9.0 // indirect
)
`)

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Contains(t, idx.Frameworks, "go-modules")
	assert.Equal(t, "v1.8.0", idx.Dependencies["github.com/spf13/cobra"])
	assert.Equal(t, "v1.9.0", idx.Dependencies["github.com/stretchr/testify"])
}

func TestScan_IgnoresWellKnownDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "node_modules/react/index.js", "x\n")
	writeFile(t, root, "__pycache__/m.py", "x\n")

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.NotContains(t, idx.Languages, "javascript")
	assert.NotContains(t, idx.Languages, "python")
}

func TestScan_HonorsGitignore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n")
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "generated/out.py", "x\n")

	idx, err := (&Scanner{}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.NotContains(t, idx.Languages, "python")
}

func TestScan_Cancellation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Scanner{}).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
