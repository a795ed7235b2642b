package parser

import (
	"go/ast"
	goparser "go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var symbolPatterns = map[string][]*regexp.Regexp{
	".py": {
		regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z_]\w*)`),
		regexp.MustCompile(`(?m)^class\s+([A-Za-z_]\w*)`),
	},
	".js": jsPatterns,
	".jsx": jsPatterns,
	".ts": jsPatterns,
	".tsx": jsPatterns,
	".java": {
		regexp.MustCompile(`(?m)^(?:public\s+|protected\s+|private\s+)?(?:abstract\s+|final\s+)*(?:class|interface|enum|record)\s+([A-Za-z_]\w*)`),
	},
	".sol": {
		regexp.MustCompile(`(?m)^(?:abstract\s+)?(?:contract|library|interface)\s+([A-Za-z_]\w*)`),
	},
	".rs": {
		regexp.MustCompile(`(?m)^(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_]\w*)`),
		regexp.MustCompile(`(?m)^(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_]\w*)`),
	},
}

var jsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
}

// topLevelSymbols lists top-level function and type names. Extraction is
// best effort: a parse failure yields nil.
func topLevelSymbols(path, src string) []string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".go" {
		return goSymbols(path, src)
	}

	var out []string
	for _, re := range symbolPatterns[ext] {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

func goSymbols(path, src string) []string {
	fset := token.NewFileSet()
	f, err := goparser.ParseFile(fset, path, src, goparser.SkipObjectResolution)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("go structure extraction failed")
		return nil
	}

	var out []string
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				if recv := receiverName(d.Recv.List[0].Type); recv != "" {
					name = recv + "." + name
				}
			}
			out = append(out, name)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					out = append(out, ts.Name.Name)
				}
			}
		}
	}
	return out
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}
