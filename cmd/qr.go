package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

// qrCmd renders a pairing payload into a PNG. Useful on headless hosts:
// copy the payload printed by `run` and scan the image from anywhere.
func qrCmd() *cobra.Command {
	var out string
	var size int
	cmd := &cobra.Command{
		Use:   "qr [payload]",
		Short: "Render a pairing payload as a PNG image",
		Long: "Renders a WhatsApp pairing payload (as printed by `waclaw run`) into a\n" +
			"PNG image. The payload is read from the argument, or from stdin when omitted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload string
			if len(args) == 1 {
				payload = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload from stdin: %w", err)
				}
				payload = strings.TrimSpace(string(data))
			}
			if payload == "" {
				return fmt.Errorf("empty pairing payload")
			}

			png, err := qrcode.Encode(payload, qrcode.Medium, size)
			if err != nil {
				return fmt.Errorf("render qr: %w", err)
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "pairing.png", "output file")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}
