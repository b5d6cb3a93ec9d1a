// snaptag - RDS snapshot tag reconciler
// Copy what the instance knows. Placehold what it doesn't. Never overwrite.
package main

func main() {
	Execute()
}
