// Package mqtt publishes shop activity to an MQTT broker so staff
// dashboards and phones can react to new orders without polling the API.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. It follows the
// event bus and republishes order and handoff events as JSON under the
// configured base topic, plus a retained daily stats document. A retained
// availability topic reads "online" while connected; the will message
// flips it to "offline" on unexpected disconnects.
//
// Topics, relative to base_topic:
//
//	status           online | offline (retained)
//	orders/created   new order payloads
//	orders/status    order status changes
//	handoff          customer asked for a human
//	health           an LLM provider or the database went down or came back
//	stats            daily counters (retained)
package mqtt
