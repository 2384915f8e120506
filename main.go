package main

import "github.com/user/gosec-playbooks/cmd"

func main() {
	cmd.Execute()
}
