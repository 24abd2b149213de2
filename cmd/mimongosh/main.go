// Command mimongosh is a small interactive shell over an in-memory
// deployment: it reads mongosh statements from stdin, executes them against
// a fresh Client, and prints results as extended JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mimongo/mimongo"
)

func main() {
	app := &cli.App{
		Name:  "mimongosh",
		Usage: "run mongosh statements against an in-memory MongoDB emulator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "test",
				Usage:   "database statements run against",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "seed for the $sample random source",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log engine activity to stderr",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	opts := []mimongo.Option{}
	if c.IsSet("seed") {
		opts = append(opts, mimongo.WithRandSeed(c.Int64("seed")))
	}
	if c.Bool("verbose") {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
		opts = append(opts, mimongo.WithLogger(logger))
	}

	client := mimongo.NewClient(opts...)
	database := c.String("database")
	ctx := context.Background()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	interactive := isTerminal()
	if interactive {
		fmt.Printf("%s> ", database)
	}
	for scanner.Scan() {
		statement := strings.TrimSpace(scanner.Text())
		if statement == "" || strings.HasPrefix(statement, "//") {
			continue
		}
		if statement == "exit" || statement == "quit" {
			break
		}

		result, err := client.Execute(ctx, database, statement)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		} else {
			printResult(result)
		}
		if interactive {
			fmt.Printf("%s> ", database)
		}
	}
	return scanner.Err()
}

func printResult(result *mimongo.Result) {
	for _, value := range result.Value {
		fmt.Println(renderValue(value))
	}
	if len(result.Value) == 0 {
		fmt.Println("null")
	}
}

func renderValue(value any) string {
	switch v := value.(type) {
	case bson.D, bson.M, bson.A:
		out, err := bson.MarshalExtJSONIndent(v, false, false, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	}
}

func isTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
