// Package main provides a tool that creates or inspects an SFTP host key.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/ajaxzhan/sandbox-sftp/internal/sftpd"
)

func main() {
	out := flag.String("out", "ssh_host_ed25519_key", "Path of the host key file")
	force := flag.Bool("force", false, "Replace an existing key")
	flag.Parse()

	if *force {
		if err := os.Remove(*out); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Failed to remove existing key: %v", err)
		}
	}

	// An existing key is loaded, a missing one is generated.
	signer, err := sftpd.LoadOrCreateHostKey(*out)
	if err != nil {
		log.Fatalf("Failed to load host key: %v", err)
	}

	fmt.Printf("%s %s\n", *out, ssh.FingerprintSHA256(signer.PublicKey()))
	fmt.Print(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
}
