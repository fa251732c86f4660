// Command uvmhost is a bare-bones driver: load one compiled contract,
// run one API against an in-memory host, print whatever it returns. It
// exists to exercise the engine end to end from outside a test binary, the
// same "load a module, run one thing, print the result" shape the teacher's
// own demo driver uses, just against this tree's engine entry point instead
// of calling the interpreter directly.
package main

import (
	"fmt"
	"os"

	"github.com/rockercheng/uvm/bundle"
	"github.com/rockercheng/uvm/engine"
	"github.com/rockercheng/uvm/host"
	"github.com/rockercheng/uvm/serialize"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: uvmhost <bytecode-file> <api-name> [arg...]")
		os.Exit(1)
	}

	path, api, rawArgs := os.Args[1], os.Args[2], os.Args[3:]

	code, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("read:", err)
		os.Exit(1)
	}
	code, err = bundle.DecompressIfNeeded(code)
	if err != nil {
		fmt.Println("decompress:", err)
		os.Exit(1)
	}

	argBytes, err := encodeArgs(rawArgs)
	if err != nil {
		fmt.Println("encode args:", err)
		os.Exit(1)
	}

	h := host.NewMemHost("cli")
	eng := engine.New(h)

	res, err := eng.ExecuteWithStreams("@stream:cli", api, argBytes, map[string][]byte{"cli": code})
	if err != nil {
		fmt.Println("error:", err)
		if ce := eng.LastCompileError(); ce != nil {
			fmt.Println("  compile error:", ce)
		}
		if re := eng.LastRunError(); re != nil {
			fmt.Println("  run error:", re)
		}
		os.Exit(1)
	}

	fmt.Println("values:", res.Values)
	fmt.Println("events:", res.Events)
	fmt.Println("changes:", len(res.Changes))
}

// encodeArgs treats every CLI argument as a string unless it parses as a
// bare integer, matching what a shell can conveniently type without a
// richer argument-encoding convention.
func encodeArgs(raw []string) ([][]byte, error) {
	out := make([][]byte, len(raw))
	for i, a := range raw {
		var n int64
		if _, err := fmt.Sscanf(a, "%d", &n); err == nil && fmt.Sprint(n) == a {
			b, err := serialize.Encode(n)
			if err != nil {
				return nil, err
			}
			out[i] = b
			continue
		}
		b, err := serialize.Encode(a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
