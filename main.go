package main

import "github.com/frahmantamala/qrpay/cmd"

func main() {
	cmd.Execute()
}
