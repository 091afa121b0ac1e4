package main

import (
	executor "SpaceDB/query_executor"
	codegen "SpaceDB/query_parser/code-generator"
	lex "SpaceDB/query_parser/lexer"
	"SpaceDB/query_parser/parser"
	storageengine "SpaceDB/storage_engine"
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
)

/*
Interactive shell over one engine directory.

	go run . [dir]

Every line is one command: CREATE INDEX, INSERT, SELECT, SELECT NEAREST, DELETE,
VACUUM, CHECKPOINT, INSPECT, BEGIN/COMMIT/ROLLBACK. Set SPACEDB_DEBUG=1 to see the
component logs on stderr.
*/

func main() {
	dir := "spacedb-data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	cfg := storageengine.DefaultConfig(dir)
	if os.Getenv("SPACEDB_DEBUG") != "" {
		cfg.LogOutput = os.Stderr
	}
	se, err := storageengine.NewStorageEngine(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := se.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	vm := executor.NewVM(se, os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	// REPL
	for {
		if vm.InTransaction() {
			fmt.Print("spacedb*> ")
		} else {
			fmt.Print("spacedb> ")
		}

		if !scanner.Scan() { // Ctrl+D pressed
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		// Lexer + Parser
		stmt, err := parser.New(lex.New(line)).ParseStatement()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		instructions, err := codegen.EmitBytecode(stmt)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		if err := vm.Execute(ctx, instructions); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	// the dead row set is not persisted: roll back and vacuum before the engine closes
	if vm.InTransaction() {
		for _, op := range []executor.OpCode{executor.OP_TXN_ROLLBACK, executor.OP_VACUUM} {
			if err := vm.Execute(context.Background(), []executor.Instruction{{Op: op}}); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}
