package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/docseal/internal/previewctl"
	"github.com/dmitrijs2005/docseal/internal/server/broker"
)

func main() {

	opts, err := previewctl.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	producer := broker.NewProducer(opts.Brokers, opts.Topic)

	tool := previewctl.NewTool(os.Stdin, os.Stdout, producer)
	err = tool.Run(context.Background(), opts)
	producer.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
