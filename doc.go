// Package mrtftp implements the client side of the panel transfer
// protocol: an FTP dialect used to manage the media folders of a display
// panel and to control the panel application.
//
// # Overview
//
// The protocol keeps the usual FTP verbs (USER, PASS, CWD, PASV, STOR,
// RETR, LIST, NLST and friends) and adds panel verbs:
//   - EXLI, an extended listing with kind, date and name per entry
//   - GDT and MFMT, to read and set modification times
//   - media removal (RVD, RIM, RAU and their "all" forms) and index files
//   - server-side copy (CFR, CTO) and directory clearing (CLRD)
//   - application lifecycle requests (RSTP, RSPL, STP, STPL, STTP)
//
// After login two auxiliary TCP channels are opened: a heartbeat that
// measures latency and a line-oriented special channel for free-form
// messages in both directions.
//
// # Basic Usage
//
//	client, err := mrtftp.Dial("panel.local:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	if err := client.Login(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	entries, err := client.ExtendedList(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range entries {
//	    fmt.Println(e.Kind, e.Name)
//	}
//
// Operations log in on demand, so calling Login first is optional.
//
// # Events
//
// Session changes are reported as event.Event values delivered in order
// on a single goroutine:
//
//	client, _ := mrtftp.Dial(addr, mrtftp.WithEventHandler(func(e event.Event) {
//	    switch e.Kind {
//	    case event.SpecialCommand:
//	        fmt.Println("panel says:", e.Message)
//	    case event.Disconnected:
//	        fmt.Println("lost session:", e.Err)
//	    }
//	}))
//
// event.Disconnected is published exactly once per session, on QUIT or on
// the first fatal transport error.
//
// # Transfers
//
// Upload and Download move single files between the local directory
// cursor (LocalDir) and the remote working directory. Both can resume
// with REST. Uploads stamp the remote modification time and downloads
// stamp the local one, so that the dirsync package sees converged trees.
//
// UploadDirectory and DownloadDirectory walk whole trees and always return
// both cursors to where they started.
//
// # Error Handling
//
// Unexpected replies are returned as *ProtocolError:
//
//	if err := client.DeleteFile(ctx, "clip.mp4"); err != nil {
//	    var pe *mrtftp.ProtocolError
//	    if errors.As(err, &pe) && pe.IsPermanent() {
//	        fmt.Println("server refused:", pe.Response)
//	    }
//	}
//
// A 502 reply maps to ErrNotSupported.
//
// # Concurrency
//
// A Client serializes its control exchanges but is not safe for
// concurrent use, except Ping, LoggedIn, SendSpecialCommand and Close.
package mrtftp
