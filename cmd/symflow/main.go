// Package main provides the symflow CLI.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/mx"
	"github.com/symflow/symflow/sparsity"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("symflow %s\n", symflow.Version)
			return
		case "demo":
			if err := demo(os.Args[2:]); err != nil {
				log.Fatal(err)
			}
			return
		}
	}

	fmt.Println("symflow - symbolic computation core for dynamic optimization")
	fmt.Printf("Version: %s\n\n", symflow.Version)
	fmt.Println("Commands:")
	fmt.Println("  version           Show version")
	fmt.Println("  demo [opts.yaml]  Compile a demo function and dump its tape")
}

// demo compiles y = (a+b)*(a+b) sharing the subexpression, dumps the
// tape and the generated code, then expands to the scalar layer.
func demo(args []string) error {
	opts := symflow.DefaultOptions()
	if len(args) > 0 {
		var err error
		opts, err = symflow.LoadOptions(args[0])
		if err != nil {
			return err
		}
	}
	opts.Name = "demo"

	a := mx.Sym("a", sparsity.Dense(2, 1))
	b := mx.Sym("b", sparsity.Dense(2, 1))
	s := a.Add(b)
	f, err := mx.New([]mx.Expr{a, b}, []mx.Expr{s.Mul(s)}, opts)
	if err != nil {
		return err
	}
	if err := f.Init(); err != nil {
		return err
	}

	fmt.Printf("tape of %s (work array: %d slots):\n", f.Name(), f.WorkSize())
	if err := f.Print(os.Stdout); err != nil {
		return err
	}

	fmt.Println("\ngenerated code:")
	if err := f.GenerateCode(os.Stdout, "demo_eval"); err != nil {
		return err
	}

	sf, err := f.Expand(nil)
	if err != nil {
		return err
	}
	fmt.Printf("\nexpanded scalar tape (%d instructions):\n", sf.NumInstructions())
	return sf.Print(os.Stdout)
}
