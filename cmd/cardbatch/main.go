// Command cardbatch generates a batch of TOTP card seeds ready for import
// through the card admin API. Each row pairs a printed serial number with a
// fresh base32 secret; the output is CSV with a header line.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/xlzd/gotp"
)

func main() {
	count := flag.Int("count", 10, "Number of cards to generate")
	prefix := flag.String("prefix", "TOTP", "Serial number prefix")
	start := flag.Int("start", 1, "First serial number index")
	secretLength := flag.Int("secret-length", 32, "Length of the base32 secret")
	output := flag.String("out", "", "Output file (default stdout)")
	flag.Parse()

	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -count must be positive")
		os.Exit(1)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			slog.Error("Failed to create output file", "path", *output, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"serial_number", "seed"}); err != nil {
		slog.Error("Failed to write CSV header", "err", err)
		os.Exit(1)
	}
	for i := 0; i < *count; i++ {
		serial := fmt.Sprintf("%s-%06d", *prefix, *start+i)
		seed := gotp.RandomSecret(*secretLength)
		if err := w.Write([]string{serial, seed}); err != nil {
			slog.Error("Failed to write CSV row", "serial", serial, "err", err)
			os.Exit(1)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		slog.Error("Failed to flush CSV output", "err", err)
		os.Exit(1)
	}

	if *output != "" {
		slog.Info("Card batch written", "path", *output, "count", *count)
	}
}
