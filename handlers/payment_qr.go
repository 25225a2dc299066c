package handlers

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// paymentQRCode encodes the payment URL as a base64 PNG so the customer can
// finish on a phone when the frame cannot be shown.
func paymentQRCode(paymentURL string) (string, error) {
	qrCode, err := qrcode.New(paymentURL, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("error generating QR code: %w", err)
	}
	qrPNG, err := qrCode.PNG(256)
	if err != nil {
		return "", fmt.Errorf("error converting QR code to PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(qrPNG), nil
}
