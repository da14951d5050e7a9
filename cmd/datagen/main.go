// Command datagen builds the Korean ham/spam SMS dataset.
package main

func main() {
	Execute()
}
