package prompts

// IterationCapFallback is the answer when a turn uses every tool
// iteration without producing a final reply.
const IterationCapFallback = "Maaf Kak, permintaannya belum bisa saya selesaikan. " +
	"Boleh diulang dengan kalimat yang lebih sederhana, atau ketik /cs untuk langsung ngobrol dengan admin?"

// RephraseFallback is the answer after the model's output could not be
// read twice in a row.
const RephraseFallback = "Maaf Kak, saya kurang paham maksudnya. Boleh dijelaskan lagi?"

// ErrorFallback is the answer when the turn fails for any other reason.
const ErrorFallback = "⚠️ Ada gangguan sistem. Silakan coba lagi."

// ParseRetryNudge is sent to the model after an unreadable reply.
const ParseRetryNudge = "Balasanmu sebelumnya kosong atau tidak bisa dibaca. " +
	"Jawab pelanggan dengan teks biasa, atau panggil satu tool dengan argumen JSON yang valid."
