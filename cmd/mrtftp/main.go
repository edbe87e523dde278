// Command mrtftp runs a panel server or talks to one.
//
//	mrtftp serve --root /srv/panel --metrics-addr :9100
//	mrtftp ls --addr panel.local:21
//	mrtftp sync ./media videos --streaming-assets --watch
//	mrtftp shell
package main

import "os"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
