// Package gateway assembles the device pipeline and binds it to MQTT.
//
// It is the composition root for the device side of Multigate: command
// tables and the item-binding registry are built from configuration, one
// transport and session pair is opened per device, and a dispatcher routes
// between them. The gateway itself implements the dispatcher's Emitter,
// turning results into retained MQTT state topics, history records and
// websocket updates.
//
//	                 multigate/item/+/set
//	                 multigate/item/+/read
//	                 multigate/device/+/read_all
//	                        |
//	                        v
//	  MQTT broker <---- Gateway ----> Recorders (history, telemetry)
//	   (retained            |   \
//	    state,              |    `--> Watch() channels (websocket)
//	    availability)       v
//	                   Dispatcher
//	                        |
//	              Session --+-- Session
//	                 |             |
//	              TCPClient     TCPClient
//
// Inbound set payloads are either an envelope {"value": ..., "source": ...}
// or a bare JSON scalar; outbound state is always an envelope, published
// retained so hosts recover item values after a restart. A state message
// carries either "value" or "error" (code and message), never both: failed
// reads and writes surface as error indicators without disturbing the last
// cached good value.
package gateway
