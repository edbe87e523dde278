// Package server implements the panel FTP server.
//
// # Overview
//
// The server speaks a small FTP dialect: a subset of RFC 959 plus a set of
// panel commands for content management and two auxiliary channels
// (heartbeat and special commands) negotiated over the control connection.
// Every accepted connection runs its own session with a private
// filesystem view, event queue and passive listener.
//
// # Getting Started
//
//	driver, err := server.NewFSDriver("/srv/panel")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s, err := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithEventHandler(func(e event.Event) {
//	        log.Printf("%s %s %s", e.SessionID, e.Kind, e.Message)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// # Authentication
//
// Clients log in with one of the configured user names (WithUsers) and the
// shared password (WithPassword, or a bcrypt hash with WithPasswordHash).
// Until PASS succeeds only USER, PASS, QUIT, SYST, FEAT and OPTS are
// served; WithRequireAuth(false) lifts that restriction.
//
// # Panel Commands
//
//	RSTP RSPL STP STPL STTP   lifecycle requests, surfaced as event.AppAction
//	GTSA GPN                  streaming assets directory and panel name (AppLocator)
//	RIN RVD RIM RAU           remove the first index/video/image/audio file
//	RVDS RIMS RAUS            remove every video/image/audio file
//	CIN CLRD                  write index.txt, empty a directory
//	CFR CTO                   stage a copy source, paste it into a directory
//	EXLI GDT SDBS             compact listing, modification time, buffer size
//	STPS HPS STSS HSS         open and hold the heartbeat and special channels
//
// # Auxiliary Channels
//
// After HPS the server sends a probe byte every heartbeat interval
// (WithHeartbeatInterval) and records the round trip, reported as
// SessionInfo.Ping. After HSS each line the client writes on the special
// channel is published as event.SpecialCommand, and Server.SendSpecial
// pushes lines the other way. A failing channel closes the whole session.
//
// # Server Configuration
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(16),
//	    server.WithMaxIdleTime(10*time.Minute),
//	    server.WithBandwidthLimit(4<<20),
//	)
package server
