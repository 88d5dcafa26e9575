// ABOUTME: Usage text for the pipecraft CLI.
package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "pipecraft: a DAG-driven agentic pipeline execution engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pipecraft run <file> [flags]")
	fmt.Fprintln(w, "  pipecraft validate <file> [-resume-check checkpoint.json]")
	fmt.Fprintln(w, "  pipecraft serve [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run flags:")
	fmt.Fprintln(w, "  -simulate            no LLM backend; codergen nodes produce stub responses")
	fmt.Fprintln(w, "  -auto-approve        answer wait.human gates with each node's default choice")
	fmt.Fprintln(w, "  -logs-dir string     artifact/checkpoint directory (default \"artifacts\")")
	fmt.Fprintln(w, "  -provider string     default LLM provider for codergen nodes")
	fmt.Fprintln(w, "  -model string        default LLM model for codergen nodes")
	fmt.Fprintln(w, "  -set key=value       override a declared pipeline variable (repeatable)")
	fmt.Fprintln(w, "  -retry string        none, standard, aggressive, linear, patient (default \"none\")")
	fmt.Fprintln(w, "  -verbose             print lifecycle events to stderr")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Validate flags:")
	fmt.Fprintln(w, "  -resume-check string checkpoint file to compare the graph's source hash against")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Serve flags:")
	fmt.Fprintln(w, "  -host string         listen host (default \"127.0.0.1\")")
	fmt.Fprintln(w, "  -port int            listen port (default 8420)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "An optional pipecraft.yaml in the current directory supplies defaults for")
	fmt.Fprintln(w, "-provider, -model, -retry, and -logs-dir; flags always take precedence.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  pipecraft run pipeline.dot -simulate")
	fmt.Fprintln(w, "  pipecraft run pipeline.dot -set reviewer=alice -set retries=3")
	fmt.Fprintln(w, "  pipecraft validate pipeline.dot")
	fmt.Fprintln(w, "  pipecraft serve -port 9000")
}
