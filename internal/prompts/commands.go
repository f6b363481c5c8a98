package prompts

import "fmt"

// ResetAck confirms a conversation reset.
const ResetAck = "🧠 Memori Reset."

// RateLimited is sent when a chat sends messages too quickly.
const RateLimited = "Pelan-pelan Kak 🙏 Tunggu sebentar sebelum kirim pesan lagi, ya."

// Greeting is the reply to a new chat.
func Greeting(shopName string) string {
	if shopName == "" {
		shopName = "Spectrum Digital Printing"
	}
	return fmt.Sprintf("Halo Kak! 👋 Saya SpectrumBot dari %s.\n"+
		"Mau cetak apa hari ini? Tanya harga, bahan, atau status pesanan juga bisa.\n"+
		"Ketik /cs untuk bicara dengan admin, atau /reset untuk mulai dari awal.", shopName)
}
