package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/twinindex/twinindex/pkg/types"
)

const (
	// maxChunkLines bounds fallback line-based chunks for files without
	// AST support.
	maxChunkLines = 100
)

// Parser turns source files into CodeFiles with extracted chunks. Go
// files are chunked per top-level declaration via the AST; other files
// fall back to fixed line windows.
type Parser struct {
	root string // Project root all emitted paths are relative to
}

// New creates a parser rooted at the given project directory.
func New(root string) *Parser {
	return &Parser{root: root}
}

// ParseFiles parses the given files, skipping unreadable ones. Paths may
// be absolute or relative to the project root; emitted CodeFile paths
// are always root-relative.
func (p *Parser) ParseFiles(ctx context.Context, paths []string) ([]types.CodeFile, error) {
	files := make([]types.CodeFile, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := p.ParseFile(path)
		if err != nil {
			continue
		}
		files = append(files, *file)
	}
	return files, nil
}

// ParseFile parses a single source file.
func (p *Parser) ParseFile(path string) (*types.CodeFile, error) {
	abs := path
	if !filepath.IsAbs(abs) && p.root != "" {
		abs = filepath.Join(p.root, path)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	rel := path
	if p.root != "" {
		if r, err := filepath.Rel(p.root, abs); err == nil {
			rel = r
		}
	}

	sum := sha256.Sum256(content)
	file := &types.CodeFile{
		Path: filepath.ToSlash(rel),
		Hash: hex.EncodeToString(sum[:]),
	}

	if strings.HasSuffix(abs, ".go") {
		file.Language = "go"
		file.Chunks = p.chunkGoFile(file.Path, content)
	} else {
		file.Language = languageForExt(filepath.Ext(abs))
		file.Chunks = chunkByLines(file.Path, content)
	}
	return file, nil
}

// chunkGoFile emits one chunk per top-level declaration. Syntax errors
// are non-fatal: a partial AST still yields chunks, and a file with no
// usable AST falls back to line chunking.
func (p *Parser) chunkGoFile(relPath string, content []byte) []types.Chunk {
	fset := token.NewFileSet()
	astFile, err := goparser.ParseFile(fset, relPath, content, goparser.ParseComments)
	if astFile == nil && err != nil {
		return chunkByLines(relPath, content)
	}

	packageName := ""
	if astFile.Name != nil {
		packageName = astFile.Name.Name
	}
	imports := importList(astFile)

	var chunks []types.Chunk
	for _, decl := range astFile.Decls {
		kind, name := describeDecl(decl)
		if kind == "" {
			continue
		}

		start := fset.Position(decl.Pos())
		end := fset.Position(decl.End())
		if start.Offset < 0 || end.Offset > len(content) || start.Offset >= end.Offset {
			continue
		}

		body := string(content[start.Offset:end.Offset])
		chunk := types.Chunk{
			ID:        types.ComputeChunkID(relPath, start.Line, end.Line, body),
			FilePath:  relPath,
			StartLine: start.Line,
			EndLine:   end.Line,
			StartByte: start.Offset,
			EndByte:   end.Offset,
			Content:   body,
			Metadata: map[string]string{
				"kind":    kind,
				"name":    name,
				"package": packageName,
			},
		}
		if imports != "" {
			chunk.Metadata["imports"] = imports
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return chunkByLines(relPath, content)
	}
	return chunks
}

// describeDecl classifies a top-level declaration.
func describeDecl(decl ast.Decl) (kind, name string) {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		if d.Recv != nil && len(d.Recv.List) > 0 {
			return "method", receiverName(d.Recv.List[0].Type) + "." + d.Name.Name
		}
		return "function", d.Name.Name
	case *ast.GenDecl:
		switch d.Tok {
		case token.TYPE:
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					return "type", ts.Name.Name
				}
			}
		case token.CONST:
			return "const_group", firstValueName(d)
		case token.VAR:
			return "var_group", firstValueName(d)
		}
	}
	return "", ""
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

func firstValueName(d *ast.GenDecl) string {
	for _, spec := range d.Specs {
		if vs, ok := spec.(*ast.ValueSpec); ok && len(vs.Names) > 0 {
			return vs.Names[0].Name
		}
	}
	return ""
}

func importList(file *ast.File) string {
	if len(file.Imports) == 0 {
		return ""
	}
	paths := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		paths = append(paths, strings.Trim(imp.Path.Value, `"`))
	}
	return strings.Join(paths, ",")
}

// chunkByLines splits a file into fixed windows of whole lines.
func chunkByLines(relPath string, content []byte) []types.Chunk {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	var chunks []types.Chunk
	for start := 0; start < len(lines); start += maxChunkLines {
		end := start + maxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, types.Chunk{
			ID:        types.ComputeChunkID(relPath, start+1, end, body),
			FilePath:  relPath,
			StartLine: start + 1,
			EndLine:   end,
			Content:   body,
			Metadata:  map[string]string{"kind": "fragment"},
		})
	}
	return chunks
}

func languageForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".md":
		return "markdown"
	default:
		return "text"
	}
}
