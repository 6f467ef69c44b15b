// Package api is the HTTP transport of the doorkeeper daemon. It exposes
// identity and sample management, config bus sections, capture control, the
// live frame stream, and Prometheus metrics.
//
// # Routes
//
//	GET    /users                          list identities
//	POST   /users                          create an identity
//	GET    /users/{id}                     describe an identity
//	PATCH  /users/{id}                     rename or change access level
//	DELETE /users/{id}                     delete an identity and its samples
//	GET    /users/{id}/images              list sample labels
//	POST   /users/{id}/images?img_name=    enroll a sample (JPEG body or JSON embedding)
//	DELETE /users/{id}/images/{img_name}   remove a sample
//	GET    /config                         every config section
//	GET    /config/{section}               one section
//	PUT    /config/{section}               replace a section
//	POST   /video/start|stop|toggle        capture control
//	GET    /video/status                   capture status
//	GET    /video/stream                   multipart MJPEG of annotated frames
//	GET    /video/ws                       annotated frames as binary websocket messages
//	GET    /metrics                        Prometheus exposition
//	GET    /healthz                        liveness probe
//
// # Errors
//
// Failures are rendered as {"error": "..."}. Not-found markers map to 404,
// validation markers to 400 (422 for config documents rejected by their
// schema), and everything else to 500.
package api
