// Command flintkv-cli is an interactive shell for talking to a
// running flintkv-server over the line protocol.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/flint-kv/flintkv/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "address of the flintkv server")
	flag.Parse()

	c, err := client.Dial(*addr)
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		fatal(fmt.Errorf("connected but server did not respond: %w", err))
	}
	fmt.Printf("connected to %s\n", *addr)
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("flintkv> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !dispatch(c, line) {
			break
		}
	}
}

func dispatch(c *client.Client, line string) bool {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "put":
		if len(args) != 2 {
			fmt.Println("usage: put <key> <value>")
			return true
		}
		if err := c.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fmt.Println("error:", err)
			return true
		}
		fmt.Println("ok")

	case "get":
		if len(args) != 1 {
			fmt.Println("usage: get <key>")
			return true
		}
		val, err := c.Get([]byte(args[0]))
		if err == client.ErrKeyNotFound {
			fmt.Println("(not found)")
			return true
		}
		if err != nil {
			fmt.Println("error:", err)
			return true
		}
		fmt.Println(string(val))

	case "delete", "del":
		if len(args) != 1 {
			fmt.Println("usage: delete <key>")
			return true
		}
		if err := c.Delete([]byte(args[0])); err != nil {
			fmt.Println("error:", err)
			return true
		}
		fmt.Println("ok")

	case "range":
		if len(args) != 2 {
			fmt.Println("usage: range <low> <high>")
			return true
		}
		kvs, err := c.Range([]byte(args[0]), []byte(args[1]))
		if err != nil {
			fmt.Println("error:", err)
			return true
		}
		for _, kv := range kvs {
			fmt.Printf("%s = %s\n", kv.Key, kv.Value)
		}
		fmt.Printf("(%d entries)\n", len(kvs))

	case "ping":
		if err := c.Ping(); err != nil {
			fmt.Println("error:", err)
			return true
		}
		fmt.Println("pong")

	case "help":
		printHelp()

	case "quit", "exit":
		return false

	default:
		fmt.Printf("unknown command %q, type 'help' for a list\n", cmd)
	}
	return true
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  put <key> <value>")
	fmt.Println("  get <key>")
	fmt.Println("  delete <key>")
	fmt.Println("  range <low> <high>")
	fmt.Println("  ping")
	fmt.Println("  quit")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "flintkv-cli:", err)
	os.Exit(1)
}
