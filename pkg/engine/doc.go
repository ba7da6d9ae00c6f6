// Package engine is the composition root of the relay. It builds the model
// streamer from configuration and runs one Session per client connection.
// A Session owns its transcript and relays each exchange fragment by
// fragment to the client, ending every completed reply with a model trailer.
// Frontends observe activity through an EventBus.
package engine
