// Command cortexweaver runs a project's tasks through the agent step workflow.
package main

func main() {
	Execute()
}
