package main

//go:generate swag init -g cmd/orchestrator/main.go -o docs

// @title           Trade Desk Orchestrator API
// @version         0.1.0
// @description     Guarded order lifecycle, saga execution and autonomy controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
