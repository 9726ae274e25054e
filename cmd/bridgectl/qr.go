package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/clawbridge/internal/config"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newQRCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print a terminal QR code with the webhook url and bridge uid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := opts.dir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			if err := config.PersistUID(cfg); err != nil {
				return err
			}
			payload, err := qrPayload(cfg.WebhookURL, cfg.UID)
			if err != nil {
				return err
			}
			art, err := renderQR(payload)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Scan this QR with the mobile app to connect:")
			fmt.Fprint(out, art)
			fmt.Fprintf(out, "QR payload: %s\n", payload)
			return nil
		},
	}
}

// qrPayload is the JSON the mobile client expects: {"wsUrl": ..., "uid": ...}.
func qrPayload(webhookURL, uid string) (string, error) {
	data, err := json.Marshal(struct {
		WSURL string `json:"wsUrl"`
		UID   string `json:"uid"`
	}{WSURL: webhookURL, UID: uid})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func renderQR(payload string) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("qr: %w", err)
	}
	return halfBlocks(qr.Bitmap()), nil
}

// halfBlocks packs two bitmap rows into one terminal line.
func halfBlocks(bitmap [][]bool) string {
	dark := func(y, x int) bool {
		return y >= 0 && y < len(bitmap) && x >= 0 && x < len(bitmap[y]) && bitmap[y][x]
	}
	if len(bitmap) == 0 {
		return ""
	}
	width := len(bitmap[0])
	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := 0; x < width; x++ {
			top, bottom := dark(y, x), dark(y+1, x)
			switch {
			case top && bottom:
				b.WriteString("█")
			case top:
				b.WriteString("▀")
			case bottom:
				b.WriteString("▄")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
