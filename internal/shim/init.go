// SPDX-License-Identifier: MPL-2.0

package shim

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/pyvm/pyvm/internal/activation"
)

// InitOptions configures InitScript.
type InitOptions struct {
	// Root is exported as PYVM_ROOT.
	Root string
	// Shims is the directory prepended to PATH.
	Shims string
	// PathOnly limits the script to the environment setup, leaving out the
	// shell function and the initial rehash (`pyvm init --path`).
	PathOnly bool
}

// InitScript returns the shell code evaluated by `eval "$(pyvm init -)"`.
// It exports PYVM_ROOT, prepends the shims directory to PATH once and, unless
// PathOnly is set, defines a pyvm function that evaluates the output of
// `pyvm shell` in the calling shell.
func InitScript(sh activation.Shell, opts InitOptions) (string, error) {
	if sh == activation.Fish {
		return fishInit(opts), nil
	}

	lang := syntax.LangBash
	if sh == activation.Sh {
		lang = syntax.LangPOSIX
	}
	root, err := syntax.Quote(opts.Root, lang)
	if err != nil {
		return "", fmt.Errorf("quoting root: %w", err)
	}
	shims, err := syntax.Quote(opts.Shims, lang)
	if err != nil {
		return "", fmt.Errorf("quoting shims directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "export PYVM_ROOT=%s\n", root)
	fmt.Fprintf(&b, "case \":${PATH}:\" in\n")
	fmt.Fprintf(&b, "  *:%s:*) ;;\n", shims)
	fmt.Fprintf(&b, "  *) export PATH=%s\":${PATH}\" ;;\n", shims)
	b.WriteString("esac\n")
	if opts.PathOnly {
		return b.String(), nil
	}

	b.WriteString("command pyvm rehash 2>/dev/null\n")
	b.WriteString("pyvm() {\n")
	b.WriteString("  if [ \"$1\" = shell ] && [ \"$#\" -gt 1 ]; then\n")
	b.WriteString("    shift\n")
	fmt.Fprintf(&b, "    eval \"$(command pyvm shell --shell %s \"$@\")\"\n", sh)
	b.WriteString("  else\n")
	b.WriteString("    command pyvm \"$@\"\n")
	b.WriteString("  fi\n")
	b.WriteString("}\n")
	return b.String(), nil
}

func fishInit(opts InitOptions) string {
	root, shims := fishQuote(opts.Root), fishQuote(opts.Shims)

	var b strings.Builder
	fmt.Fprintf(&b, "set -gx PYVM_ROOT %s\n", root)
	fmt.Fprintf(&b, "if not contains -- %s $PATH\n", shims)
	fmt.Fprintf(&b, "    set -gx PATH %s $PATH\n", shims)
	b.WriteString("end\n")
	if opts.PathOnly {
		return b.String()
	}

	b.WriteString("command pyvm rehash 2>/dev/null\n")
	b.WriteString("function pyvm\n")
	b.WriteString("    if test \"$argv[1]\" = shell; and test (count $argv) -gt 1\n")
	b.WriteString("        command pyvm shell --shell fish $argv[2..-1] | source\n")
	b.WriteString("    else\n")
	b.WriteString("        command pyvm $argv\n")
	b.WriteString("    end\n")
	b.WriteString("end\n")
	return b.String()
}

// fishQuote single-quotes s for fish, where only \ and ' are special inside
// single quotes.
func fishQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
