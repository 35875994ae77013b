/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package edward is a library for probabilistic modeling and variational
// inference built on a dataflow graph.
//
// Models are expressed by composing operations into a Graph, random variables
// (package rv) attach distributions to graph outputs, and inference
// (package inference) fits the parameters of a variational approximation by
// stochastic gradient ascent on the evidence lower bound. Training progress
// streams to event files (package summary) that the bundled board server
// (package board) renders.
//
// A Graph holds the computation, a Session evaluates it. Gradients are
// symbolic: AddGradients extends the graph with the operations that compute
// derivatives, so one Session.Run step evaluates both an objective and its
// gradient.
package edward

// Version returns the release identifier of the library.
func Version() string { return "0.3.0" }
