package main

func main() {
	New().Run()
}
