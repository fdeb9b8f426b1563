// Command rxcheckpoint-cli manages rxcheckpoint servers and their
// checkpoint stores.
//
// Usage:
//
//	rxcheckpoint-cli server status
//	rxcheckpoint-cli server checkpoint --mode differential
//	rxcheckpoint-cli -o json entity list subscription
//	rxcheckpoint-cli store verify --backend badger --data-dir /var/lib/rxcheckpoint
//	rxcheckpoint-cli config set-profile --server https://ckpt:7443 --ca-file ca.pem prod
package main
