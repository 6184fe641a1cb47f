package main

// TODO:
// - rate limit `POST /v1/students/:id/payments`
func main() {
	startWithDig()
}
